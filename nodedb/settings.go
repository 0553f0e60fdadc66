package nodedb

// InvoiceCursor is the position in the invoice subscription that has
// already been turned into events.
type InvoiceCursor struct {
	AddIndex    uint64 `json:"addIndex"`
	SettleIndex uint64 `json:"settleIndex"`
}

func (db *DB) GetInvoiceCursor() (*InvoiceCursor, error) {
	cursor := &InvoiceCursor{}

	_, err := db.getJSON(settingsBucket, invoiceCursorKey, cursor)
	if err != nil {
		return nil, err
	}

	return cursor, nil
}

func (db *DB) SetInvoiceCursor(cursor *InvoiceCursor) error {
	return db.setJSON(settingsBucket, invoiceCursorKey, cursor)
}
