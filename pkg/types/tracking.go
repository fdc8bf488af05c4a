package types

import (
	"database/sql/driver"
)

// Tracking is the shipment metadata attached when an order ships.
type Tracking struct {
	Carrier        string `json:"carrier" validate:"required"`
	TrackingNumber string `json:"tracking_number" validate:"required"`
	URL            string `json:"url,omitempty" validate:"omitempty,url"`
}

func (t Tracking) Value() (driver.Value, error) {
	return jsonValue(t)
}

func (t *Tracking) Scan(value interface{}) error {
	if value == nil {
		*t = Tracking{}
		return nil
	}
	return jsonScan(value, t, "tracking")
}
