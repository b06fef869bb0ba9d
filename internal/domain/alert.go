package domain

import "time"

// Severity grades a realtime alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// AlertTypeFraudDetection is the alert type raised by the ensemble.
const AlertTypeFraudDetection = "advanced_fraud_detection"

// Alert is a severity-tagged notification raised for risky transactions.
type Alert struct {
	ID            string        `json:"id"`
	TenantID      string        `json:"tenantId"`
	TransactionID string        `json:"transactionId"`
	UserID        string        `json:"userId,omitempty"`
	AlertType     string        `json:"alertType"`
	Severity      Severity      `json:"severity"`
	Title         string        `json:"title"`
	Message       string        `json:"message"`
	Metadata      AlertMetadata `json:"metadata"`
	IsRead        bool          `json:"isRead"`
	IsDismissed   bool          `json:"isDismissed"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// AlertMetadata embeds the scoring detail behind an alert.
type AlertMetadata struct {
	TransactionID      string   `json:"transaction_id"`
	EnsembleScore      float64  `json:"ensemble_score"`
	ModelScores        ScoreSet `json:"model_scores"`
	RiskFactors        []string `json:"risk_factors"`
	RecommendedActions []string `json:"recommended_actions"`
	Confidence         float64  `json:"confidence"`
}
