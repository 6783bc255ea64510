// Package server implements the HTTP+JSON wire surface of spec.md §6
// over a pkg/cas.Store and a pkg/metadatastore.Store: the blob
// endpoints (`/cas/{hex}`, `/cas/bulk/read`, `/cas/bulk/write`) and the
// cache endpoints (`/cache/save`, `/cache/restore`, `/cache/reset`).
//
// Routing uses gorilla/mux, already pulled in transitively by the
// teacher's podman dependency chain and used directly here the way the
// rest of the pack's HTTP services route requests.
package server

import (
	"archive/tar"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kraklabs/unitcache/pkg/cachekey"
	"github.com/kraklabs/unitcache/pkg/cas"
	"github.com/kraklabs/unitcache/pkg/errtax"
	"github.com/kraklabs/unitcache/pkg/hash"
	"github.com/kraklabs/unitcache/pkg/metadatastore"
	"github.com/kraklabs/unitcache/pkg/unit"
	"github.com/kraklabs/unitcache/pkg/wire"
)

// Server exposes spec.md §6's wire surface. Generation is the current
// cache generation this server writes new keys under and restores
// against (spec.md §3); it has no wire representation, so the server
// supplies it from its own configuration.
type Server struct {
	CAS        *cas.Store
	Metadata   *metadatastore.Store
	Generation cachekey.Generation
	Log        *logrus.Entry
}

// Router builds the mux.Router serving Server's handlers.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/cas/{hex}", s.handleCASHead).Methods(http.MethodHead)
	r.HandleFunc("/cas/{hex}", s.handleCASGet).Methods(http.MethodGet)
	r.HandleFunc("/cas/{hex}", s.handleCASPut).Methods(http.MethodPut)
	r.HandleFunc("/cas/bulk/read", s.handleBulkRead).Methods(http.MethodPost)
	r.HandleFunc("/cas/bulk/write", s.handleBulkWrite).Methods(http.MethodPost)
	r.HandleFunc("/cache/save", s.handleCacheSave).Methods(http.MethodPost)
	r.HandleFunc("/cache/restore", s.handleCacheRestore).Methods(http.MethodPost)
	r.HandleFunc("/cache/reset", s.handleCacheReset).Methods(http.MethodPost)
	return r
}

func (s *Server) logErr(err error) {
	if s.Log != nil && err != nil {
		s.Log.WithError(err).Warn("request failed")
	}
}

func (s *Server) handleCASHead(w http.ResponseWriter, r *http.Request) {
	key, err := hash.ParseKey(mux.Vars(r)["hex"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ok, err := s.CAS.Exists(key)
	if err != nil {
		s.logErr(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCASGet(w http.ResponseWriter, r *http.Request) {
	key, err := hash.ParseKey(mux.Vars(r)["hex"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	rc, err := s.CAS.ReadCompressed(key)
	if errtax.Is(err, errtax.NotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		s.logErr(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/zstd-bytes")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

func (s *Server) handleCASPut(w http.ResponseWriter, r *http.Request) {
	key, err := hash.ParseKey(mux.Vars(r)["hex"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.CAS.WriteCompressed(key, r.Body); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleBulkRead(w http.ResponseWriter, r *http.Request) {
	var req wire.BulkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/tar")
	w.WriteHeader(http.StatusOK)
	tw := tar.NewWriter(w)
	defer tw.Close()

	for _, hex := range req.Keys {
		key, err := hash.ParseKey(hex)
		if err != nil {
			continue
		}
		rc, err := s.CAS.ReadCompressed(key)
		if errtax.Is(err, errtax.NotFound) {
			continue
		}
		if err != nil {
			s.logErr(err)
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			s.logErr(err)
			continue
		}
		if err := tw.WriteHeader(&tar.Header{Name: key.String(), Size: int64(len(data)), Mode: 0o644}); err != nil {
			s.logErr(err)
			return
		}
		if _, err := tw.Write(data); err != nil {
			s.logErr(err)
			return
		}
	}
}

func (s *Server) handleBulkWrite(w http.ResponseWriter, r *http.Request) {
	tr := tar.NewReader(r.Body)
	resp := wire.BulkWriteResponse{}

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		key, err := hash.ParseKey(hdr.Name)
		if err != nil {
			resp.Errors = append(resp.Errors, wire.BulkWriteError{Key: hdr.Name, Msg: err.Error()})
			continue
		}
		existed, err := s.CAS.Exists(key)
		if err != nil {
			resp.Errors = append(resp.Errors, wire.BulkWriteError{Key: hdr.Name, Msg: err.Error()})
			continue
		}
		if existed {
			resp.Skipped = append(resp.Skipped, hdr.Name)
			continue
		}
		if err := s.CAS.WriteCompressed(key, tr); err != nil {
			resp.Errors = append(resp.Errors, wire.BulkWriteError{Key: hdr.Name, Msg: err.Error()})
			continue
		}
		resp.Written = append(resp.Written, hdr.Name)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleCacheSave(w http.ResponseWriter, r *http.Request) {
	var req wire.SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	entries := make([]metadatastore.Entry, 0, len(req.Units))
	for _, u := range req.Units {
		su, err := wire.DecodeSavedUnit(u.Unit)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		entries = append(entries, metadatastore.Entry{
			Key:  cachekey.Key{Generation: s.Generation, UnitHash: su.Plan.UnitHash, Libc: u.Key.LibcVersion},
			Unit: su,
		})
	}

	if err := s.Metadata.Save(entries); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleCacheRestore(w http.ResponseWriter, r *http.Request) {
	var req wire.RestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if len(req) == 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(wire.RestoreResponse{})
		return
	}

	hostLibc := req[0].LibcVersion
	keys := make([]cachekey.Key, len(req))
	for i, k := range req {
		keys[i] = cachekey.Key{Generation: s.Generation, UnitHash: unit.Hash(k.UnitHash), Libc: k.LibcVersion}
	}

	hits, err := s.Metadata.Restore(keys, hostLibc)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := make(wire.RestoreResponse, 0, len(hits))
	for k, su := range hits {
		resp = append(resp, wire.RestorePair{
			Key:  wire.CacheKeyWire{UnitHash: string(k.UnitHash), LibcVersion: k.Libc},
			Unit: wire.EncodeSavedUnit(su),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleCacheReset(w http.ResponseWriter, r *http.Request) {
	if err := s.Metadata.Reset(); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.logErr(err)
	switch errtax.CodeOf(err) {
	case errtax.InvalidRequest:
		w.WriteHeader(http.StatusBadRequest)
	case errtax.NotFound:
		w.WriteHeader(http.StatusNotFound)
	case errtax.HashMismatch:
		w.WriteHeader(http.StatusUnprocessableEntity)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
}
