package rpc

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"

	"labgrid/native/reservation"
)

const maxRequestBytes = 1 << 20 // 1 MiB

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type requestPayload struct {
	Lab         string `json:"lab"`
	Caller      string `json:"caller,omitempty"`
	Renter      string `json:"renter,omitempty"`
	Start       int64  `json:"start"`
	End         int64  `json:"end,omitempty"`
	Price       string `json:"price,omitempty"`
	Institution string `json:"institution,omitempty"`
	Collector   string `json:"collector,omitempty"`
	UserRef     string `json:"userRef,omitempty"`
	PeriodStart int64  `json:"periodStart,omitempty"`
	PeriodDur   int64  `json:"periodDuration,omitempty"`
	MaxBatch    int    `json:"maxBatch,omitempty"`
}

type reservationView struct {
	Key         string `json:"key"`
	Lab         string `json:"lab"`
	Renter      string `json:"renter"`
	Owner       string `json:"owner,omitempty"`
	Price       string `json:"price"`
	Status      string `json:"status"`
	Start       int64  `json:"start"`
	End         int64  `json:"end"`
	CreatedAt   int64  `json:"createdAt"`
	Institution string `json:"institution,omitempty"`

	Split *splitView `json:"split,omitempty"`
}

type splitView struct {
	Provider   string `json:"provider"`
	Treasury   string `json:"treasury"`
	Subsidy    string `json:"subsidy"`
	Governance string `json:"governance"`
}

type activityView struct {
	Key string `json:"key"`
	At  int64  `json:"at"`
}

type releaseResult struct {
	Processed int `json:"processed"`
}

func newReservationView(r *reservation.Reservation) *reservationView {
	if r == nil {
		return nil
	}
	view := &reservationView{
		Key:       hex.EncodeToString(r.Key[:]),
		Lab:       r.LabID,
		Renter:    hex.EncodeToString(r.Renter[:]),
		Status:    r.Status.String(),
		Start:     r.Start,
		End:       r.End,
		CreatedAt: r.CreatedAt,
	}
	if r.Owner != ([20]byte{}) {
		view.Owner = hex.EncodeToString(r.Owner[:])
	}
	if r.Price != nil {
		view.Price = r.Price.String()
	}
	if r.Institutional != nil {
		view.Institution = hex.EncodeToString(r.Institutional.Institution[:])
	}
	if r.Split != nil {
		view.Split = &splitView{
			Provider:   bigString(r.Split.Provider),
			Treasury:   bigString(r.Split.Treasury),
			Subsidy:    bigString(r.Split.Subsidy),
			Governance: bigString(r.Split.Governance),
		}
	}
	return view
}

func newActivityViews(entries []reservation.ActivityEntry) []activityView {
	views := make([]activityView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, activityView{Key: hex.EncodeToString(entry.Key[:]), At: entry.At})
	}
	return views
}

func hexKey(key [32]byte) string {
	return hex.EncodeToString(key[:])
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parsePrice(value string) (*big.Int, bool) {
	price, ok := new(big.Int).SetString(value, 10)
	if !ok || price.Sign() < 0 {
		return nil, false
	}
	return price, true
}
