package model

import (
	"time"
)

// LoyaltyCounter tracks qualifying coffee purchases and the free coffees they earn.
//
// FreeCoffeesGranted is always CoffeeCount / threshold (integer division) and
// FreeCoffeesUsed never exceeds it.
type LoyaltyCounter struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID             int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	CoffeeCount        int       `gorm:"not null;default:0" json:"coffee_count"`
	FreeCoffeesGranted int       `gorm:"not null;default:0" json:"free_coffees_granted"`
	FreeCoffeesUsed    int       `gorm:"not null;default:0" json:"free_coffees_used"`
	Version            int       `gorm:"not null;default:0" json:"version"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (LoyaltyCounter) TableName() string {
	return "loyalty_counter"
}

func (c *LoyaltyCounter) AvailableFreeCoffees() int {
	return c.FreeCoffeesGranted - c.FreeCoffeesUsed
}
