package api

import (
	"encoding/json"
	"net/http"

	"github.com/edgecoder/coordinator/internal/security"
)

// ingestBlacklistUpdate handles a received blacklist_update gossip
// message, chaining it locally if it validates (spec §4.6: "Received
// events pass the same validation and are chained locally").
func (s *Server) ingestBlacklistUpdate(payload json.RawMessage) {
	var record security.BlacklistRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		log.WithError(err).Warn("blacklist_update: malformed payload")
		return
	}
	key, ok := s.Peers.VerifyingKeys(record.SourceCoordinatorID)
	if !ok || len(key) == 0 {
		log.WithField("coordinator", record.SourceCoordinatorID).Warn("blacklist_update: unknown source coordinator")
		return
	}
	if err := s.Blacklist.IngestRemote(record, key[0]); err != nil {
		// spec §7: chain-verification errors are never auto-repaired; log
		// at error level and leave the local chain untouched.
		log.WithError(err).WithField("eventId", record.EventID).Error("blacklist_update: chain validation failed")
	}
}

// handleSecurityBlacklist serves GET /security/blacklist: the current
// blacklist chain snapshot.
func (s *Server) handleSecurityBlacklist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Blacklist.Snapshot())
}

// handleSecurityBlacklistAudit serves GET /security/blacklist/audit: the
// same chain, framed as the audit log.
func (s *Server) handleSecurityBlacklistAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Blacklist.Snapshot())
}
