package model

// BatchProgress summarises a set of jobs, typically one dispatched screenshot batch.
// It is computed from job reads only and never written back.
type BatchProgress struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// NewBatchProgress counts jobs by status.
func NewBatchProgress(jobs []*Job) BatchProgress {
	var p BatchProgress
	for _, j := range jobs {
		if j == nil {
			continue
		}
		p.Total++
		switch j.Status {
		case JobStatusPending:
			p.Pending++
		case JobStatusProcessing:
			p.Processing++
		case JobStatusCompleted:
			p.Completed++
		case JobStatusFailed:
			p.Failed++
		}
	}
	return p
}

// Done reports whether every job in the batch is terminal.
func (p BatchProgress) Done() bool {
	return p.Total > 0 && p.Completed+p.Failed == p.Total
}
