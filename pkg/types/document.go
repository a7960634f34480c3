package types

// DocumentKey identifies one replicated document.
type DocumentKey struct {
	ProjectID string `json:"projectID"`
	FilePath  string `json:"filePath"`
}

func (k DocumentKey) String() string {
	return k.ProjectID + "/" + k.FilePath
}

// DocumentUpdate is one broadcast delta on the doc-update channel. Update is
// the opaque serialized operation batch; Origin tags the submitting connection
// so its own edits are never echoed back to it.
type DocumentUpdate struct {
	ProjectID string `json:"projectID"`
	FilePath  string `json:"filePath"`
	Update    []byte `json:"update"`
	Origin    string `json:"origin,omitempty"`
}
