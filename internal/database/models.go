package database

import "time"

// Centre is a data-producing institution (§3).
type Centre struct {
	ID        int64
	ShortName string
	Name      string
	Active    bool
}

// SourceProtocol enumerates the transport used by a FileSource.
type SourceProtocol struct {
	ID   int64
	Name string
}

// Protocol name constants, matching the seeded source_protocol rows.
const (
	ProtocolFTP  = "ftp"
	ProtocolSFTP = "sftp"
	ProtocolHTTP = "http"
)

// ResourceState enumerates the availability of a FileSource.
type ResourceState struct {
	ID   int64
	Name string
}

// Resource state name constants, matching the seeded resource_state rows.
const (
	ResourceStateAvailable   = "available"
	ResourceStateMaintenance = "maintenance"
	ResourceStateRemoved     = "removed"
)

// ProcessingType ("todo") names one of the three sub-directories a
// package may be discovered in.
type ProcessingType struct {
	ID   int64
	Name string
}

// Processing type name constants, matching the seeded processing_type rows.
const (
	ProcessingTypeAdd    = "add"
	ProcessingTypeEdit   = "edit"
	ProcessingTypeDelete = "delete"
)

// Phase is a pipeline stage. Ord is the semantic temporal order used by
// the escalation matrix (§4.1); it always equals the seed insertion order.
type Phase struct {
	ID   int64
	Name string
	Ord  int
}

// Phase name constants, in their semantic order (§3).
const (
	PhaseDownload = "download"
	PhaseZipName  = "zip_name"
	PhaseZipMD5   = "zip_md5"
	PhaseUnzip    = "unzip"
	PhaseXMLName  = "xml_name"
	PhaseXSD      = "xsd"
	PhaseUpload   = "upload"
	PhaseData     = "data"
	PhaseContext  = "context"
	PhaseOverview = "overview"
	PhaseQC       = "qc"
)

// Status is a severity level. Ord is the severity order used by the
// escalation matrix: pending < running < done < cancelled < failed.
type Status struct {
	ID   int64
	Name string
	Ord  int
}

// Status name constants, in their severity order (§3).
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusDone      = "done"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// PhaseStatus is a (phase, status) pair, the unit the escalation matrix
// in phase_status.go operates on.
type PhaseStatus struct {
	Phase  Phase
	Status Status
}

// FileSource is a remote endpoint owned by a Centre (§3).
type FileSource struct {
	ID             int64
	CentreID       int64
	Hostname       string
	ProtocolID     int64
	BasePath       string
	Username       string
	Password       string
	IdentityFile   string
	ResourceStateID int64
}

// ZipFile is a named archive ever seen, unique by filename (§3).
type ZipFile struct {
	ID          int64
	Filename    string
	CentreID    *int64
	ReleaseDate *time.Time
	Increment   *int
	SizeBytes   *int64
	CreatedAt   time.Time
}

// ZipAction is a (ZipFile, ProcessingType) pair carrying the current
// (phase, status) of that action (§3).
type ZipAction struct {
	ID               int64
	ZipFileID        int64
	ProcessingTypeID int64
	PhaseID          int64
	StatusID         int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FileSourceHasZip is a candidate hosting relation carrying a rating
// used for preference sorting (§3, §4.3).
type FileSourceHasZip struct {
	ID           int64
	FileSourceID int64
	ZipActionID  int64
	Rating       int
}

// ZipDownload is one attempt of a FileSourceHasZip (§3).
type ZipDownload struct {
	ID                   int64
	FileSourceHasZipID   int64
	PhaseID              int64
	StatusID             int64
	StartedAt            time.Time
	LastReceivedAt       *time.Time
	BytesReceived        int64
	LocalPath            string
}

// XmlFile is an inner document inside a ZipDownload (§3).
type XmlFile struct {
	ID               int64
	ZipDownloadID    int64
	Name             string
	Kind             string // "specimen" or "experiment"
	ProducerCentreID *int64
	CreatedDate      *time.Time
	Increment        *int
	SizeBytes        *int64
	PhaseID          int64
	StatusID         int64
	CreatedAt        time.Time
}

// Inner document kind constants (§4.2, §4.9).
const (
	XmlKindSpecimen   = "specimen"
	XmlKindExperiment = "experiment"
)

// AnException is an interned exception short-name, created lazily on
// first reference (§3).
type AnException struct {
	ID        int64
	ShortName string
}

// ZipLog is an error annotation anchored to a ZipDownload (§3).
type ZipLog struct {
	ID            int64
	ZipDownloadID int64
	ExceptionID   int64
	Message       string
	Line          *int
	Column        *int
	CreatedAt     time.Time
}

// XmlLog is an error annotation anchored to an XmlFile (§3).
type XmlLog struct {
	ID          int64
	XmlFileID   int64
	ExceptionID int64
	Message     string
	Line        *int
	Column      *int
	CreatedAt   time.Time
}

// CrawlingSession is one pipeline invocation (§3).
type CrawlingSession struct {
	ID        int64
	StartedAt time.Time
	EndedAt   *time.Time
	Succeeded *bool
}

// SessionTask is one subprocess invocation inside a session (§3, §4.9).
type SessionTask struct {
	ID        int64
	SessionID int64
	PhaseID   int64
	StartedAt time.Time
	EndedAt   *time.Time
	ExitCode  *int
	Comment   string
}
