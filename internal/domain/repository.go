package domain

// InstallRecordRepository defines the interface for install history persistence
type InstallRecordRepository interface {
	// Create creates a new record
	Create(record *InstallRecord) error

	// Update updates an existing record
	Update(record *InstallRecord) error

	// FindByID finds a record by ID
	FindByID(id string) (*InstallRecord, error)

	// FindByTitle finds the records of a title, newest first
	FindByTitle(title string, limit int) ([]*InstallRecord, error)

	// FindAll finds all records with optional filters, newest first
	FindAll(filters map[string]interface{}) ([]*InstallRecord, error)

	// MarkInterrupted fails every record still running, used at startup
	MarkInterrupted() (int64, error)

	// GetStats returns history statistics
	GetStats() (*InstallStats, error)
}

// InstallStats represents install history statistics
type InstallStats struct {
	Total    int64 `json:"total"`
	Running  int64 `json:"running"`
	Finished int64 `json:"finished"`
	Failed   int64 `json:"failed"`
	Canceled int64 `json:"canceled"`
}
