package graph

// messagePage is one page of GET .../mailFolders/inbox/messages.
type messagePage struct {
	Value    []message `json:"value"`
	NextLink string    `json:"@odata.nextLink"`
}

// message is the subset of a Graph message selected by fetchFields.
type message struct {
	ID               string     `json:"id"`
	Subject          string     `json:"subject"`
	ReceivedDateTime string     `json:"receivedDateTime"`
	WebLink          string     `json:"webLink"`
	From             *recipient `json:"from"`
	Flag             *flag      `json:"flag"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type flag struct {
	FlagStatus string `json:"flagStatus"`
}

type moveRequest struct {
	DestinationID string `json:"destinationId"`
}

type flagPatch struct {
	Flag flag `json:"flag"`
}
