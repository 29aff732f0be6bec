package model

import (
	"time"
)

const ProductCategoryCoffee = "coffee"

type Product struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"type:varchar(128);not null" json:"name"`
	Category    string    `gorm:"type:varchar(32);index;not null" json:"category"`
	Price       int64     `gorm:"not null" json:"price"`
	IsAvailable bool      `gorm:"not null;default:true" json:"is_available"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string {
	return "product"
}

func (p *Product) IsCoffee() bool {
	return p.Category == ProductCategoryCoffee
}
