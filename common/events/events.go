package events

// UploadBegin is published when an upload attempt starts for a file.
type UploadBegin struct {
	FileID  string `json:"file_id"`
	NodeID  string `json:"node_id"`
	Attempt int    `json:"attempt"`
}

// UploadProgress reports upload progress in whole percent.
type UploadProgress struct {
	FileID  string `json:"file_id"`
	NodeID  string `json:"node_id"`
	Percent int    `json:"percent"`
}

// UploadDone is published when a file finished uploading to one node.
type UploadDone struct {
	FileID string `json:"file_id"`
	NodeID string `json:"node_id"`
}

// UploadFailed is published when one attempt failed and will be retried.
type UploadFailed struct {
	FileID  string `json:"file_id"`
	NodeID  string `json:"node_id"`
	Attempt int    `json:"attempt"`
	Reason  string `json:"reason"`
}

// UploadFailedPermanently is published when all attempts against one node
// are exhausted.
type UploadFailedPermanently struct {
	FileID string `json:"file_id"`
	NodeID string `json:"node_id"`
	Reason string `json:"reason"`
}

// UploadFailedCompletely is published when a file could not be stored on
// any of its target nodes.
type UploadFailedCompletely struct {
	FileID string `json:"file_id"`
}

// UploadDoneCompletely is the per-file terminal event, published once every
// target node was attempted, whatever the per-node outcomes were.
type UploadDoneCompletely struct {
	FileID      string `json:"file_id"`
	StoredNodes int    `json:"stored_nodes"`
}

// AllUploadsDone signals that no pending uploads remain.
type AllUploadsDone struct{}

// DownloadStart is published when a download begins.
type DownloadStart struct {
	FileID string `json:"file_id"`
	NodeID string `json:"node_id"`
}

// DownloadProgress reports download progress in whole percent.
type DownloadProgress struct {
	FileID  string `json:"file_id"`
	Percent int    `json:"percent"`
}

// DownloadedFileReady is published once a file is fully on disk.
type DownloadedFileReady struct {
	FileID string `json:"file_id"`
	Path   string `json:"path"`
}

// DownloadFailed is published when a download could not complete.
type DownloadFailed struct {
	FileID string `json:"file_id"`
	Reason string `json:"reason"`
}

// MetadataReady carries freshly fetched metadata for a file.
type MetadataReady struct {
	FileID   string `json:"file_id"`
	Metadata any    `json:"metadata"`
}

// MetadataFailed is published when metadata could not be fetched.
type MetadataFailed struct {
	FileID string `json:"file_id"`
	Reason string `json:"reason"`
}

// MatchingStarted is published when node matching begins for a file.
type MatchingStarted struct {
	FileID string `json:"file_id"`
}

// MatchingNodeDecided carries the matching outcome for a file. NodeIDs is
// empty when no node matched.
type MatchingNodeDecided struct {
	FileID  string   `json:"file_id"`
	NodeIDs []string `json:"node_ids"`
}

// MatchingRuleUsed identifies the rule and layer that produced a decision.
// LayerIndex is -1 when no layer produced the node.
type MatchingRuleUsed struct {
	FileID     string `json:"file_id"`
	RuleID     string `json:"rule_id"`
	LayerIndex int    `json:"layer_index"`
}

// FileDeleted is published after a file was removed everywhere.
type FileDeleted struct {
	FileID string `json:"file_id"`
}
