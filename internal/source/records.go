package source

// Record is a provider payload reduced to the fields the normalizer needs.
// The set of implementations is closed.
type Record interface {
	record()
}

// GraphMessage is a Microsoft Graph inbox message.
type GraphMessage struct {
	ID          string
	Subject     string
	ReceivedAt  string
	FromName    string
	FromAddress string
	WebLink     string
	Flagged     bool
}

// GmailMessage is a Gmail message with metadata headers.
type GmailMessage struct {
	ID          string
	ThreadID    string
	Subject     string
	FromName    string
	FromAddress string
	// ReceivedAt is internalDate rendered as RFC 3339.
	ReceivedAt string
	Labels     []string
}

// IMAPMessage is an IMAP envelope.
type IMAPMessage struct {
	UID         uint32
	MessageID   string
	Subject     string
	Date        string
	ReceivedAt  string
	FromName    string
	FromAddress string
	Flagged     bool
}

// TaskStatusCompleted is the Task.Status of a completed task.
const TaskStatusCompleted = 2

// Task is a task-service task.
type Task struct {
	ID            string
	ProjectID     string
	ProjectName   string
	Title         string
	Content       string
	Kind          string
	DueDate       string
	StartDate     string
	CompletedTime string
	Status        int
	Priority      int
}

func (GraphMessage) record() {}
func (GmailMessage) record() {}
func (IMAPMessage) record()  {}
func (Task) record()         {}
