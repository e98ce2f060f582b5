// Package events は貸出状態の遷移をメッセージブローカーへ通知する。
package events

import (
	"context"
	"time"
)

// EventType は貸出イベントの種別。ルーティングキーとしても使う。
type EventType string

const (
	LoanBorrowed EventType = "loan.borrowed"
	LoanReturned EventType = "loan.returned"
)

// LoanEvent はコミット済みの貸出・返却を表す。
type LoanEvent struct {
	Type       EventType `json:"type"`
	LoanID     string    `json:"loan_id"`
	UserID     string    `json:"user_id"`
	BookID     string    `json:"book_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher は貸出イベントの発行インターフェース。
type Publisher interface {
	Publish(ctx context.Context, event LoanEvent) error
}

// NoopPublisher はイベントを破棄する。AMQP_URL未設定時に使う。
type NoopPublisher struct{}

// Publish は何もしない。
func (NoopPublisher) Publish(context.Context, LoanEvent) error { return nil }

var _ Publisher = NoopPublisher{}
