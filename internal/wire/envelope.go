// Package wire defines the envelope types, task-type vocabulary, and broker
// topology names shared between the producer (internal/rpc) and the
// consumer runtime (internal/consumer).
package wire

// Task is the request envelope published onto the bus.
type Task struct {
	TaskID        string         `json:"task_id"`
	TaskType      string         `json:"task_type"`
	Timestamp     int64          `json:"timestamp"`
	Parameters    map[string]any `json:"parameters"`
	ProducerID    string         `json:"producer_id"`
	SentAtMs      int64          `json:"sent_at_ms"`
	CorrelationID string         `json:"correlation_id"`
}

// Status values carried in a Reply.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Reply is the response envelope published back to a producer's reply
// queue.
type Reply struct {
	Status        string         `json:"status"`
	Result        map[string]any `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	WorkerID      string         `json:"worker_id"`
	ProcessedAtMs int64          `json:"processed_at_ms"`
	CorrelationID string         `json:"correlation_id"`
}

// Task types. Fan-out mutations are delivered to every worker via the
// Exchange fanout exchange; processing tasks are delivered to exactly one
// worker via the direct exchange/queue pair.
const (
	TaskCreateTenant   = "create_tenant"
	TaskDeleteTenant   = "delete_tenant"
	TaskCreateUser     = "create_user"
	TaskDeleteUser     = "delete_user"
	TaskAddFace        = "add_face"
	TaskDeleteFace     = "delete_face"
	TaskFaceRecognize  = "face_recognition"
	TaskFaceDetect     = "face_detection"
	TaskFaceEmbed      = "face_embedding"
	TaskGetUserFaces   = "get_user_faces"
	TaskGetCacheStats  = "get_cache_stats"
	TaskHealthCheck    = "health_check"
)

// FanoutTasks is the exhaustive set of mutation task types delivered to
// every worker.
var FanoutTasks = map[string]bool{
	TaskCreateTenant: true,
	TaskDeleteTenant: true,
	TaskCreateUser:   true,
	TaskDeleteUser:   true,
	TaskAddFace:      true,
	TaskDeleteFace:   true,
}

// ProcessingTasks is the exhaustive set of task types delivered to exactly
// one worker.
var ProcessingTasks = map[string]bool{
	TaskFaceRecognize: true,
	TaskFaceDetect:    true,
	TaskFaceEmbed:     true,
	TaskGetUserFaces:  true,
	TaskGetCacheStats: true,
	TaskHealthCheck:   true,
}

// IsFanout reports whether taskType belongs to the fan-out mutation
// channel.
func IsFanout(taskType string) bool {
	return FanoutTasks[taskType]
}

// IsProcessing reports whether taskType belongs to the single-consumer
// processing channel.
func IsProcessing(taskType string) bool {
	return ProcessingTasks[taskType]
}

// Broker topology names (spec §6.2).
const (
	ExchangeCacheUpdates = "cache_updates" // fanout, durable
	ExchangeFaceTasks    = "face_tasks"    // direct, durable
	QueueFaceProcessing  = "face_processing_tasks"
)
