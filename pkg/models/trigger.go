package models

// Trigger is a pre-computed cold-start condition: an event hashing to Hash starts a new
// instance of WorkflowDefinitionID at ActivityID.
type Trigger struct {
	ID                   string `json:"id"`
	WorkflowDefinitionID string `json:"workflow_definition_id"`
	ActivityID           string `json:"activity_id"`
	ActivityTypeName     string `json:"activity_type_name"`
	Hash                 string `json:"hash"`
	Payload              string `json:"payload,omitempty"` // Serialized trigger payload
}
