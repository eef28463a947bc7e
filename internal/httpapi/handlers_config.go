package httpapi

import "net/http"

func (s *Service) handleConfigEditableGet(w http.ResponseWriter, r *http.Request) {
	writeOK(w, r, map[string]any{"settings": s.app.Config.EditableSnapshot()})
}

func (s *Service) handleConfigEditablePatch(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.app.Config.ApplyPatch(patch); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, map[string]any{"settings": s.app.Config.EditableSnapshot()})
}

func (s *Service) handleConfigReset(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Config.ResetToDefaults(); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, map[string]any{"settings": s.app.Config.EditableSnapshot()})
}
