package api

import (
	"fmt"

	"safetrack/internal/model"
)

// pingRequest uses pointer coordinates so an absent field is
// distinguishable from a legitimate zero.
type pingRequest struct {
	TripID    string   `json:"tripId"`
	UserID    string   `json:"userId"`
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	AccuracyM float64  `json:"accuracyM"`
	SpeedMps  float64  `json:"speedMps"`
	Heading   float64  `json:"heading"`
	AltitudeM float64  `json:"altitudeM"`
	Battery   *int     `json:"battery"`
	IsMoving  *bool    `json:"isMoving"`
}

func (req *pingRequest) validate() error {
	if req.TripID == "" {
		return fmt.Errorf("tripId required")
	}
	if req.Lat == nil || req.Lng == nil {
		return fmt.Errorf("lat and lng required")
	}
	if *req.Lat < -90 || *req.Lat > 90 {
		return fmt.Errorf("lat out of range")
	}
	if *req.Lng < -180 || *req.Lng > 180 {
		return fmt.Errorf("lng out of range")
	}
	return nil
}

func (req *pingRequest) toPing() model.Ping {
	p := model.Ping{
		TripID:    req.TripID,
		UserID:    req.UserID,
		Lat:       *req.Lat,
		Lng:       *req.Lng,
		AccuracyM: req.AccuracyM,
		SpeedMps:  req.SpeedMps,
		Heading:   req.Heading,
		AltitudeM: req.AltitudeM,
		Battery:   req.Battery,
		IsMoving:  true,
	}
	if req.IsMoving != nil {
		p.IsMoving = *req.IsMoving
	}
	return p
}

type sosRequest struct {
	TripID      string   `json:"tripId"`
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
	Description string   `json:"description"`
}

func (req *sosRequest) validate() error {
	if req.Lat == nil || req.Lng == nil {
		return fmt.Errorf("lat and lng required")
	}
	if *req.Lat < -90 || *req.Lat > 90 {
		return fmt.Errorf("lat out of range")
	}
	if *req.Lng < -180 || *req.Lng > 180 {
		return fmt.Errorf("lng out of range")
	}
	return nil
}
