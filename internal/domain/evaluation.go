package domain

import (
	"time"
)

// Verdict is the categorical outcome of a scoring call.
type Verdict string

const (
	VerdictFraudulent Verdict = "fraudulent"
	VerdictSuspicious Verdict = "suspicious"
	VerdictLegitimate Verdict = "legitimate"
)

// Scorer names, used as explanation keys and in persisted rows.
const (
	ModelRandomForest = "random_forest"
	ModelLSTM         = "lstm"
	ModelXGBoost      = "xgboost"
)

// EnsembleMethod is reported with every analysis response.
const EnsembleMethod = "Dynamic Weighted Voting"

// ModelsUsed lists the display names of the scorers invoked per call.
var ModelsUsed = []string{"Random Forest", "LSTM Neural Network", "XGBoost"}

// ScoreSet holds the three raw scorer outputs, each in [0,1].
type ScoreSet struct {
	RandomForest float64 `json:"random_forest"`
	LSTM         float64 `json:"lstm"`
	XGBoost      float64 `json:"xgboost"`
}

// Values returns the scores in scorer order.
func (s ScoreSet) Values() [3]float64 {
	return [3]float64{s.RandomForest, s.LSTM, s.XGBoost}
}

// EnsembleWeights are the normalized per-call scorer weights.
type EnsembleWeights struct {
	RF   float64 `json:"rf"`
	LSTM float64 `json:"lstm"`
	XGB  float64 `json:"xgb"`
}

// Sum returns the total weight.
func (w EnsembleWeights) Sum() float64 {
	return w.RF + w.LSTM + w.XGB
}

// EnsembleOutput is what the combiner hands to the decision generator.
type EnsembleOutput struct {
	Score      float64         `json:"score"`
	Confidence float64         `json:"confidence"`
	Weights    EnsembleWeights `json:"weights"`
}

// ScoringResult is the immutable output of one scoring call.
// Reported scores are rounded to four decimals; RawEnsembleScore keeps the
// unrounded value the verdict and alert grading are taken from.
type ScoringResult struct {
	TransactionID      string            `json:"transaction_id"`
	UserID             string            `json:"user_id,omitempty"`
	RandomForestScore  float64           `json:"random_forest_score"`
	LSTMScore          float64           `json:"lstm_score"`
	XGBoostScore       float64           `json:"xgboost_score"`
	EnsembleScore      float64           `json:"ensemble_score"`
	RawEnsembleScore   float64           `json:"-"`
	Prediction         Verdict           `json:"prediction"`
	Confidence         float64           `json:"confidence"`
	RiskFactors        []string          `json:"risk_factors"`
	ModelExplanations  map[string]string `json:"model_explanations"`
	RecommendedActions []string          `json:"recommended_actions"`
	Weights            EnsembleWeights   `json:"weights"`
	ProcessingTimeMs   int64             `json:"processing_time_ms"`
}

// ProcessingDetails describes how a result was produced.
type ProcessingDetails struct {
	TotalTimeMs    int64  `json:"total_time_ms"`
	ModelsAnalyzed int    `json:"models_analyzed"`
	EnsembleMethod string `json:"ensemble_method"`
}

// AnalyzeResponse is the API response for a successful analysis.
type AnalyzeResponse struct {
	Success           bool              `json:"success"`
	Result            *ScoringResult    `json:"result"`
	ModelsUsed        []string          `json:"models_used"`
	ProcessingDetails ProcessingDetails `json:"processing_details"`
}

// NewAnalyzeResponse wraps a result with its response metadata.
func NewAnalyzeResponse(result *ScoringResult) *AnalyzeResponse {
	return &AnalyzeResponse{
		Success:    true,
		Result:     result,
		ModelsUsed: ModelsUsed,
		ProcessingDetails: ProcessingDetails{
			TotalTimeMs:    result.ProcessingTimeMs,
			ModelsAnalyzed: len(ModelsUsed),
			EnsembleMethod: EnsembleMethod,
		},
	}
}

// EnsembleRecord is the persisted form of a scoring result.
type EnsembleRecord struct {
	TenantID  string        `json:"tenantId"`
	Result    ScoringResult `json:"result"`
	CreatedAt time.Time     `json:"createdAt"`
}

// AnalyticsEvent captures input, output and timing of one analysis.
type AnalyticsEvent struct {
	ID               string               `json:"id"`
	TenantID         string               `json:"tenantId"`
	UserID           string               `json:"userId,omitempty"`
	SessionID        string               `json:"sessionId"`
	ModelType        string               `json:"modelType"`
	Input            *TransactionFeatures `json:"input"`
	Output           *ScoringResult       `json:"output"`
	ConfidenceScore  float64              `json:"confidenceScore"`
	ProcessingTimeMs int64                `json:"processingTimeMs"`
	CreatedAt        time.Time            `json:"createdAt"`
}

// AnalyticsModelType tags analytics events written by the ensemble.
const AnalyticsModelType = "advanced_ml_ensemble"

// ModelPerformance is an illustrative performance snapshot for one scorer.
type ModelPerformance struct {
	ModelName      string    `json:"modelName"`
	ModelVersion   string    `json:"modelVersion"`
	Accuracy       float64   `json:"accuracy"`
	PrecisionScore float64   `json:"precisionScore"`
	Recall         float64   `json:"recall"`
	F1Score        float64   `json:"f1Score"`
	TrainingDate   time.Time `json:"trainingDate"`
	IsActive       bool      `json:"isActive"`
}
