// Package model はドメインモデルを定義する。
package model

import "time"

// Book は蔵書を表す。Stockは貸出可能な冊数で常に0以上。
type Book struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Stock     int       `json:"stock"`
	Year      int       `json:"year"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BookPatch は書籍の部分更新内容。nilのフィールドは変更しない。
type BookPatch struct {
	Title  *string `json:"title,omitempty"`
	Author *string `json:"author,omitempty"`
	Stock  *int    `json:"stock,omitempty"`
	Year   *int    `json:"year,omitempty"`
}

// IsEmpty は更新対象フィールドが1つもないかを返す。
func (p BookPatch) IsEmpty() bool {
	return p.Title == nil && p.Author == nil && p.Stock == nil && p.Year == nil
}

// Page はページング指定。
type Page struct {
	Number  int
	PerPage int
}

// Offset はSQLのOFFSET値を返す。
func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.PerPage
}
