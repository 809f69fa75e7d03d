package warehouse

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

type User struct {
	UserID     int64  `parquet:"user_id"`
	Name       string `parquet:"name"`
	Email      string `parquet:"email"`
	Country    string `parquet:"country"`
	SignupDate string `parquet:"signup_date"`
}

type Order struct {
	OrderID   int64   `parquet:"order_id"`
	UserID    int64   `parquet:"user_id"`
	Status    string  `parquet:"status"`
	Total     float64 `parquet:"total"`
	Currency  string  `parquet:"currency"`
	OrderedAt string  `parquet:"ordered_at"`
}

var firstNames = []string{"Ada", "Grace", "Linus", "Margaret", "Ken", "Barbara", "Dennis", "Frances", "Alan", "Radia"}

// Generator produces a deterministic shop dataset for a seed.
type Generator struct {
	rnd *rand.Rand
	now func() time.Time
}

func NewGenerator(seed int64) *Generator {
	return &Generator{
		rnd: rand.New(rand.NewSource(seed)),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (g *Generator) Users(count int) []User {
	today := g.now().Truncate(24 * time.Hour)
	users := make([]User, 0, count)
	for i := 1; i <= count; i++ {
		name := firstNames[g.rnd.Intn(len(firstNames))]
		users = append(users, User{
			UserID:     int64(i),
			Name:       name,
			Email:      fmt.Sprintf("%s.%04d@example.com", strings.ToLower(name), i),
			Country:    pickOne(g.rnd, []string{"US", "DE", "GB", "IN", "JP", "BR"}),
			SignupDate: today.AddDate(0, 0, -g.rnd.Intn(730)).Format(time.DateOnly),
		})
	}
	return users
}

// Orders references user ids in [1, userCount].
func (g *Generator) Orders(count, userCount int) []Order {
	if userCount <= 0 {
		return nil
	}
	now := g.now()
	orders := make([]Order, 0, count)
	for i := 1; i <= count; i++ {
		status := g.pickStatus()
		orders = append(orders, Order{
			OrderID:   int64(i),
			UserID:    int64(g.rnd.Intn(userCount) + 1),
			Status:    status,
			Total:     round2(5 + g.rnd.Float64()*295),
			Currency:  "USD",
			OrderedAt: now.Add(-time.Duration(g.rnd.Intn(90*24)) * time.Hour).Format(time.RFC3339),
		})
	}
	return orders
}

func (g *Generator) pickStatus() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 70:
		return "completed"
	case p < 85:
		return "shipped"
	case p < 95:
		return "pending"
	default:
		return "cancelled"
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
