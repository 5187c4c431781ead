package model

// Operations routed through the worker pool
const (
	OperationLocationBulkUpload = "locationBulkUploadBackground"
	OperationTelemetry          = "telemetryForward"
	OperationSMS                = "smsService"
)

// TriggerMessage asks the worker to process a previously submitted job
type TriggerMessage struct {
	JobID         string `json:"jobId"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// SMSRequest asks for a text message to be sent to platform users
type SMSRequest struct {
	RecipientUserIDs []string `json:"recipientUserIds"`
	Body             string   `json:"body"`
}

// TelemetryBatch is a batch of telemetry events handed to the forwarder
type TelemetryBatch struct {
	Ets    int64            `json:"ets"`
	Events []map[string]any `json:"events"`
}

// TelemetryParams carries request-level telemetry metadata
type TelemetryParams struct {
	MsgID string `json:"msgid"`
}

// TelemetryRequest is the body posted to the telemetry service
type TelemetryRequest struct {
	ID     string           `json:"id"`
	Ver    string           `json:"ver"`
	Ets    int64            `json:"ets"`
	Params TelemetryParams  `json:"params"`
	Events []map[string]any `json:"events,omitempty"`
}
