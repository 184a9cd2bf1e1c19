package model

type TableStatus string

const (
	TableAvailable   TableStatus = "AVAILABLE"
	TableOccupied    TableStatus = "OCCUPIED"
	TableReserved    TableStatus = "RESERVED"
	TableMaintenance TableStatus = "MAINTENANCE"
)

// Table is the subset of the Table Registry record the ledger reads.
type Table struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Status     TableStatus `json:"status"`
	HourlyRate int64       `json:"hourlyRate"`
}
