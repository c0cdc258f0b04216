package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/contracts"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			writeRejection(w, r, "readyz", http.StatusServiceUnavailable, "NOT_READY", "storage unavailable", err)
			return
		}
	}
	writeMessage(w, http.StatusOK, "ready")
}

func (h *Handler) createLicense(w http.ResponseWriter, r *http.Request) {
	var req contracts.CreateLicenseRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeMappedError(w, r, "create_license", err)
		return
	}
	in, err := req.Input()
	if err != nil {
		writeMappedError(w, r, "create_license", err)
		return
	}

	license, err := h.service.CreateLicense(r.Context(), actorFromRequest(r), in)
	if err != nil {
		writeMappedError(w, r, "create_license", err)
		return
	}
	writeSuccess(w, r, http.StatusCreated, contracts.NewLicenseResponse(license))
}

func (h *Handler) revokeLicense(w http.ResponseWriter, r *http.Request) {
	licenseID, err := domain.ParseRecordID(chi.URLParam(r, "license_id"))
	if err != nil {
		writeMappedError(w, r, "revoke_license", err)
		return
	}

	license, err := h.service.RevokeLicense(r.Context(), actorFromRequest(r), licenseID)
	if err != nil {
		writeMappedError(w, r, "revoke_license", err)
		return
	}
	writeSuccess(w, r, http.StatusOK, contracts.NewLicenseResponse(license))
}

func (h *Handler) getLicense(w http.ResponseWriter, r *http.Request) {
	licenseID, err := domain.ParseRecordID(chi.URLParam(r, "license_id"))
	if err != nil {
		writeMappedError(w, r, "get_license", err)
		return
	}

	license, err := h.service.GetLicense(r.Context(), licenseID)
	if err != nil {
		writeMappedError(w, r, "get_license", err)
		return
	}
	writeSuccess(w, r, http.StatusOK, contracts.NewLicenseResponse(license))
}

func (h *Handler) lookupLicense(w http.ResponseWriter, r *http.Request) {
	var q contracts.LicenseQuery
	if err := decodeBody(w, r, &q); err != nil {
		writeMappedError(w, r, "lookup_license", err)
		return
	}
	asset, licensee, err := q.Parse()
	if err != nil {
		writeMappedError(w, r, "lookup_license", err)
		return
	}

	license, err := h.service.LookupLicense(r.Context(), asset, licensee)
	if err != nil {
		writeMappedError(w, r, "lookup_license", err)
		return
	}
	writeSuccess(w, r, http.StatusOK, contracts.NewLicenseResponse(license))
}

func (h *Handler) licenseExists(w http.ResponseWriter, r *http.Request) {
	var q contracts.LicenseQuery
	if err := decodeBody(w, r, &q); err != nil {
		writeMappedError(w, r, "license_exists", err)
		return
	}
	asset, licensee, err := q.Parse()
	if err != nil {
		writeMappedError(w, r, "license_exists", err)
		return
	}

	exists, err := h.service.LicenseExists(r.Context(), asset, licensee)
	if err != nil {
		writeMappedError(w, r, "license_exists", err)
		return
	}
	writeSuccess(w, r, http.StatusOK, contracts.ExistsResponse{
		LicenseID: domain.LicenseKey(asset, licensee).String(),
		Exists:    exists,
	})
}

func (h *Handler) checkActive(w http.ResponseWriter, r *http.Request) {
	var q contracts.ActiveQuery
	if err := decodeBody(w, r, &q); err != nil {
		writeMappedError(w, r, "check_active", err)
		return
	}
	in, err := q.Input()
	if err != nil {
		writeMappedError(w, r, "check_active", err)
		return
	}

	status, err := h.service.CheckActive(r.Context(), actorFromRequest(r), in)
	if err != nil {
		writeMappedError(w, r, "check_active", err)
		return
	}
	writeSuccess(w, r, http.StatusOK, contracts.NewActiveResponse(status))
}

func (h *Handler) getGuard(w http.ResponseWriter, r *http.Request) {
	asset, err := domain.ParseAssetHash(chi.URLParam(r, "asset_hash"))
	if err != nil {
		writeMappedError(w, r, "get_guard", err)
		return
	}

	guard, err := h.service.GetGuard(r.Context(), asset)
	if err != nil {
		writeMappedError(w, r, "get_guard", err)
		return
	}
	writeSuccess(w, r, http.StatusOK, contracts.NewGuardResponse(guard))
}
