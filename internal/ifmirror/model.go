package ifmirror

import "github.com/ovn-org/libovsdb/model"

// dbName is the OVSDB database published by the interface manager.
const dbName = "Interface_Manager"

// interfaceRow mirrors one row of the externally published Interface
// table. Field tags follow libovsdb's struct-tag convention
// (`ovsdb:"<column>"`).
type interfaceRow struct {
	UUID      string   `ovsdb:"_uuid"`
	Name      string   `ovsdb:"name"`
	LinkState string   `ovsdb:"link_state"` // "up" or "down"
	MTU       int      `ovsdb:"mtu"`
	Addresses []string `ovsdb:"addresses"` // CIDR strings, e.g. "10.0.0.1/24"
}

// clientDBModel builds the libovsdb ClientDBModel binding dbName's
// Interface table to interfaceRow.
func clientDBModel() (model.ClientDBModel, error) {
	return model.NewClientDBModel(dbName, map[string]model.Model{
		"Interface": &interfaceRow{},
	})
}
