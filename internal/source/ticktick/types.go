package ticktick

type project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type projectData struct {
	Tasks []task `json:"tasks"`
}

type task struct {
	ID            string `json:"id"`
	ProjectID     string `json:"projectId"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	Kind          string `json:"kind"`
	DueDate       string `json:"dueDate"`
	StartDate     string `json:"startDate"`
	CompletedTime string `json:"completedTime"`
	Status        int    `json:"status"`
	Priority      int    `json:"priority"`
}

type statusUpdate struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Status    int    `json:"status"`
}
