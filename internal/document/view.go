package document

import "time"

type InboxMessage struct {
	Key       string    `json:"key"`
	From      string    `json:"from"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// View is what one director sees of the run: the task, its predecessors'
// analyses and its unread inbox.
type View struct {
	RunID    string
	Task     string
	Director string
	Inputs   map[string]Analysis
	Inbox    []InboxMessage
}

// ViewFor builds the view for director. Only analyses of the listed
// predecessors that have been recorded are included.
func (d *Document) ViewFor(director string, predecessors []string) View {
	v := View{
		RunID:    d.RunID,
		Task:     d.Task,
		Director: director,
		Inputs:   make(map[string]Analysis, len(predecessors)),
		Inbox:    d.Unread(director),
	}
	for _, p := range predecessors {
		if a, ok := d.Analyses[p]; ok {
			v.Inputs[p] = a
		}
	}
	return v
}

// ProductOwner returns the product owner's analysis, nil when it is not an
// input of this view.
func (v View) ProductOwner() *ProductOwnerAnalysis {
	return v.Inputs[string(KindProductOwner)].ProductOwner
}

func (v View) StaffEngineer() *StaffEngineerAnalysis {
	return v.Inputs[string(KindStaffEngineer)].StaffEngineer
}
