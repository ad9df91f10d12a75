package domain

// TaskStatus enumerates task lifecycle states as stored in the queue table.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusSuccess    TaskStatus = "SUCCESS"
	TaskStatusFailed     TaskStatus = "FAILED"
)

// Task is one queued submission. The worker loop is the sole mutator after the
// producer inserts it as PENDING; it terminates in SUCCESS or FAILED and is
// never deleted.
type Task struct {
	ID        int64
	Status    TaskStatus
	UserData  UserData
	ResultLog string
}

// Session identifies the account a submission is performed for.
type Session struct {
	CampusID    string `json:"campusId"`
	SchoolID    string `json:"schoolId"`
	StuNumber   string `json:"stuNumber"`
	Token       string `json:"token"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// RoutePoint is one waypoint of the nominal route.
type RoutePoint struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// RunPoint describes the route target of a submission.
type RunPoint struct {
	PointID   string       `json:"pointId"`
	TaskID    string       `json:"taskId"`
	PointList []RoutePoint `json:"pointList"`
}

// UserData is the task payload. RetryCount and ReservedCredit are owned by the
// worker loop and persisted back on every transition so lifecycle state
// survives process restarts.
type UserData struct {
	Session       *Session  `json:"session,omitempty"`
	RunPoint      *RunPoint `json:"runPoint,omitempty"`
	Mileage       float64   `json:"mileage"`
	MinTime       int       `json:"minTime"`
	MaxTime       int       `json:"maxTime"`
	CustomEndTime string    `json:"customEndTime,omitempty"`
	StartDate     string    `json:"startDate,omitempty"`

	// RetryCount is the number of processing attempts so far. It strictly
	// increases by one per attempt and never decreases.
	RetryCount int `json:"retryCount"`
	// ReservedCredit records that this task already consumed a backfill
	// credit, so later attempts must not consume again.
	ReservedCredit bool `json:"reservedCredit"`
}

// IsBackfill reports whether the task targets a past date and is therefore
// subject to credit metering.
func (d UserData) IsBackfill() bool {
	return d.CustomEndTime != ""
}

// StuNumber returns the ledger key for the task, or "" when no session is set.
func (d UserData) StuNumber() string {
	if d.Session == nil {
		return ""
	}
	return d.Session.StuNumber
}
