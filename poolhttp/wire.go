// Package poolhttp exposes a selfplay.PoolStore over a narrow
// JSON-over-HTTP API: one endpoint per store operation, so every
// mutation executes as a single server-side unit and the store's
// atomicity guarantees extend across processes.
package poolhttp

// One request/response pair per store operation. Blobs ride as
// base64 via encoding/json's []byte handling.

type snapshotJSON struct {
	Params  []byte `json:"params"`
	Version int    `json:"version"`
}

type promoteRequest struct {
	Params []byte `json:"params"`
}

type promoteResponse struct {
	Index int `json:"index"`
}

type qualitiesResponse struct {
	Qualities []float64 `json:"qualities"`
}

type countResponse struct {
	Count int `json:"count"`
}

type deltaRequest struct {
	Index int     `json:"index"`
	Delta float64 `json:"delta"`
}

type pushRequest struct {
	Payloads [][]byte `json:"payloads"`
}

type popRequest struct {
	Max int `json:"max"`
}

type popResponse struct {
	Payloads [][]byte `json:"payloads"`
}
