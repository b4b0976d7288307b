package orders

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateOrder(order *Order) error {
	return d.db.Create(order).Error
}

// GetOrder retrieves an order by its internal id, (nil, nil) on miss.
func (d *Database) GetOrder(orderID string) (*Order, error) {
	var order Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetOrderByUser retrieves an order scoped to its owning user.
func (d *Database) GetOrderByUser(orderID, userID string) (*Order, error) {
	var order Order
	if err := d.db.Where("order_id = ? AND user_id = ?", orderID, userID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUser lists a user's orders, newest first.
func (d *Database) GetOrdersByUser(userID string) ([]Order, error) {
	var list []Order
	if err := d.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// GetOpenOrders lists all orders still in a non-terminal state, the working
// set for the reconciliation loop.
func (d *Database) GetOpenOrders() ([]Order, error) {
	var list []Order
	err := d.db.
		Where("status IN ?", []types.OrderStatus{types.StatusPlaced, types.StatusPartiallyFilled}).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateOrder saves changed fields on an order.
func (d *Database) UpdateOrder(order *Order) error {
	order.UpdatedAt = time.Now()
	return d.db.Save(order).Error
}

// UpdateOrderStatus atomically updates a single order's status fields.
func (d *Database) UpdateOrderStatus(orderID string, status types.OrderStatus, filledQty int, avgPrice float64) error {
	return d.db.Model(&Order{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"status":          status,
			"filled_quantity": filledQty,
			"average_price":   avgPrice,
			"updated_at":      time.Now(),
		}).Error
}
