package domain

import "time"

// RunErrorStage указывает, на каком шаге прогона произошла ошибка.
type RunErrorStage string

const (
	StageSelect  RunErrorStage = "select"
	StageDeliver RunErrorStage = "deliver"
	StageGroup   RunErrorStage = "group"
	StageCursor  RunErrorStage = "cursor"
)

// RunError — структурированная запись об изолированной ошибке прогона.
type RunError struct {
	UserID   int64
	StyleKey StyleKey
	Stage    RunErrorStage
	Message  string
}

// RunStats агрегирует итоги одного прогона пайплайна.
type RunStats struct {
	BatchID        string
	UsersProcessed int
	UsersSkipped   int
	MessagesSent   int
	MessagesFailed int
	Errors         []RunError
	StartedAt      time.Time
	Duration       time.Duration
}
