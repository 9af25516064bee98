package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"vaultbridge.mini/vb/internal/abci"
)

// @Title: Get Bridge State
// @Route: GET /api/bridge
// @Description: Returns the bridge configuration, pause flags and cached vault balance
// @Response: BridgeState object, 404 before initialize
func (s *Service) HandleBridge(w http.ResponseWriter, r *http.Request) {
	s.lookup(w, abci.PathBridgeState)
}

// @Title: Get Whitelist Status
// @Route: GET /api/whitelist/{address}
// @Description: Reports whether a counterparty has an active whitelist entry
// @Response: {"address": "...", "entry": "...", "whitelisted": true}
func (s *Service) HandleWhitelist(w http.ResponseWriter, r *http.Request) {
	s.lookup(w, abci.PathWhitelist+mux.Vars(r)["address"])
}

// @Title: Get Account
// @Route: GET /api/accounts/{address}
// @Description: Returns any ledger account with its kind and version
// @Response: {"address": "...", "kind": "TokenAccount", "version": 3, "data": {...}}
func (s *Service) HandleAccount(w http.ResponseWriter, r *http.Request) {
	s.lookup(w, abci.PathAccount+mux.Vars(r)["address"])
}

// @Title: Reconcile Vault
// @Route: GET /api/vault/reconcile
// @Description: Compares the cached vault balance with the vault token account
// @Response: {"vault": "...", "cached": 0, "actual": 0, "drift": 0, "in_sync": true}
func (s *Service) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	s.lookup(w, abci.PathReconcile)
}

// @Title: Get Transaction Status
// @Route: GET /api/tx/{hash}
// @Description: Reports whether a transaction id (hash of the signed payload) has been delivered
// @Response: {"hash": "...", "processed": true, "height": 12}
func (s *Service) HandleTx(w http.ResponseWriter, r *http.Request) {
	s.lookup(w, abci.PathTx+mux.Vars(r)["hash"])
}

func (s *Service) lookup(w http.ResponseWriter, path string) {
	v, err := s.state.Lookup(path)
	switch {
	case abci.IsNotFound(err):
		s.writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, v)
	}
}
