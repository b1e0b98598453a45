package model

import "time"

// HistoryEntry is one persisted diagnosis. Entries are append-only: once
// written they are never updated, and they are read back in insertion order.
//
// Status holds the predicted label (e.g. "Tomato___Early_blight"). The JSON
// names match what the browser client already renders.
type HistoryEntry struct {
	ID             int64     `json:"id"`
	UserID         string    `json:"-"`
	PlantType      string    `json:"plantType"`
	Status         string    `json:"status"`
	Recommendation string    `json:"recommendation"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	ThumbnailURL   string    `json:"thumbnailUrl,omitempty"`
	AnalyzedAt     time.Time `json:"analyzedAt"`
}

// HistoryPage is one page of a user's history plus the metadata the client
// needs to render pagination controls.
type HistoryPage struct {
	Username string         `json:"username"`
	History  []HistoryEntry `json:"history"`
	Page     int            `json:"page"`
	Limit    int            `json:"limit"`
	Total    int            `json:"total"`
	Pages    int            `json:"pages"`
}

// Diagnosis is the result of one analyze request.
//
// Prediction and Status carry the same label; older clients read "status",
// newer ones read "prediction".
type Diagnosis struct {
	Prediction     string `json:"prediction"`
	Status         string `json:"status"`
	Recommendation string `json:"recommendation"`
	ImageURL       string `json:"imageUrl,omitempty"`
	ThumbnailURL   string `json:"thumbnailUrl,omitempty"`
}
