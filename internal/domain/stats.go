package domain

import (
	"fmt"
	"time"
)

// Timeframe is a rolling window ending now.
type Timeframe string

const (
	Last24h Timeframe = "last_24h"
	Last7d  Timeframe = "last_7d"
	Last30d Timeframe = "last_30d"
	Last90d Timeframe = "last_90d"
)

// ParseTimeframe maps an empty string to last_30d.
func ParseTimeframe(s string) (Timeframe, error) {
	switch tf := Timeframe(s); tf {
	case "":
		return Last30d, nil
	case Last24h, Last7d, Last30d, Last90d:
		return tf, nil
	}
	return "", invalid("timeframe", fmt.Sprintf("unknown timeframe %q", s))
}

func (t Timeframe) Duration() time.Duration {
	switch t {
	case Last24h:
		return 24 * time.Hour
	case Last7d:
		return 7 * 24 * time.Hour
	case Last90d:
		return 90 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

// Stats aggregates notifications created inside a timeframe.
type Stats struct {
	Timeframe    Timeframe        `json:"timeframe"`
	From         time.Time        `json:"from"`
	To           time.Time        `json:"to"`
	Total        int              `json:"total"`
	ByStatus     map[Status]int   `json:"by_status"`
	ByChannel    map[Channel]int  `json:"by_channel"`
	ByCategory   map[Category]int `json:"by_category"`
	ByPriority   map[Priority]int `json:"by_priority"`
	Sent         int              `json:"sent"`
	Delivered    int              `json:"delivered"`
	Read         int              `json:"read"`
	DeliveryRate int              `json:"delivery_rate"`
	ReadRate     int              `json:"read_rate"`
}

// ComputeStats folds ns into a Stats value. The caller is responsible for
// narrowing ns to the timeframe and viewer.
//
// Delivery rate is delivered channels over attempted channels; read rate is
// distinct readers over recipients, summed across notifications.
func ComputeStats(ns []*Notification, tf Timeframe, now time.Time) Stats {
	s := Stats{
		Timeframe:  tf,
		From:       now.Add(-tf.Duration()),
		To:         now,
		ByStatus:   make(map[Status]int),
		ByChannel:  make(map[Channel]int),
		ByCategory: make(map[Category]int),
		ByPriority: make(map[Priority]int),
	}
	var readers, recipients int
	for _, n := range ns {
		s.Total++
		s.ByStatus[n.Status]++
		s.ByCategory[n.Category]++
		s.ByPriority[n.Priority]++
		for _, ch := range n.Channels {
			s.ByChannel[ch]++
		}
		a := n.Analytics()
		s.Sent += a.Sent
		s.Delivered += a.Delivered
		s.Read += a.Read
		readers += n.uniqueReaders()
		recipients += len(n.Recipients)
	}
	s.DeliveryRate = Percent(s.Delivered, s.Sent)
	s.ReadRate = Percent(readers, recipients)
	return s
}
