package domain

type ResourceKind string

const (
	ResourceFile   ResourceKind = "file"
	ResourceRemote ResourceKind = "remote"
)

// SourceResource identifies one input of an ingestion run.
type SourceResource struct {
	Location  string       `json:"location"`
	Extension string       `json:"extension"`
	Kind      ResourceKind `json:"kind"`
}
