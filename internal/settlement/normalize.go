package settlement

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"rifas-backend/internal/models"
)

// ErrNoReference means no transaction reference could be extracted from the
// notification. The webhook handler acknowledges these without processing;
// the gateway must never see a failure for them.
var ErrNoReference = errors.New("notification carries no reference")

// Notification is the canonical form of an inbound gateway notification,
// whatever shape it arrived in.
type Notification struct {
	// Reference is the merchant reference used as the ledger key. Falls back
	// to the gateway's own id when the merchant echo field is absent.
	Reference string
	// RefPayco is the gateway's transaction id, stored as the invoice.
	RefPayco string
	// Status is the canonical settlement status.
	Status models.Status
	// NeedsFetch marks the bare-reference shape: the payload carried no
	// state of its own and the full detail must be fetched from the gateway.
	NeedsFetch bool
	// Raw is the payload as received, retained for audit.
	Raw []byte
}

// Normalize maps any of the historical gateway payload shapes to a
// Notification. It is a pure function: no lookups, no side effects.
//
// Shapes handled:
//   - classic confirmation form (application/x-www-form-urlencoded, x_* fields)
//   - the same fields as flat JSON
//   - checkout v2 JSON with the fields nested under "data"
//   - bare-reference JSON {"ref_payco": "..."} requiring a detail fetch
func Normalize(contentType string, payload []byte) (*Notification, error) {
	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		values, err := url.ParseQuery(string(payload))
		if err != nil {
			return nil, ErrNoReference
		}
		form := models.ConfirmationForm{
			RefPayco:      values.Get("x_ref_payco"),
			TransactionID: values.Get("x_transaction_id"),
			Response:      values.Get("x_response"),
			ResponseCode:  values.Get("x_cod_response"),
			Reference:     values.Get("x_extra4"),
			RaffleID:      values.Get("x_extra1"),
		}
		return fromForm(form, payload)
	}

	// JSON shapes. Try the nested checkout shape first, then the flat form,
	// then the bare reference.
	var nested models.CheckoutNotification
	if err := json.Unmarshal(payload, &nested); err == nil && (nested.Data.Reference != "" || nested.Data.RefPayco != "") {
		return fromForm(nested.Data, payload)
	}

	var flat models.ConfirmationForm
	if err := json.Unmarshal(payload, &flat); err == nil && (flat.Reference != "" || flat.RefPayco != "") {
		return fromForm(flat, payload)
	}

	var bare models.ReferenceNotification
	if err := json.Unmarshal(payload, &bare); err == nil && bare.RefPayco != "" {
		return &Notification{
			RefPayco:   bare.RefPayco,
			Status:     models.StatusUnknown,
			NeedsFetch: true,
			Raw:        payload,
		}, nil
	}

	return nil, ErrNoReference
}

func fromForm(form models.ConfirmationForm, payload []byte) (*Notification, error) {
	reference := form.Reference
	if reference == "" {
		reference = form.RefPayco
	}
	if reference == "" {
		return nil, ErrNoReference
	}
	return &Notification{
		Reference: reference,
		RefPayco:  form.RefPayco,
		Status:    MapGatewayStatus(form.Response, form.ResponseCode),
		Raw:       payload,
	}, nil
}

// MapGatewayStatus translates the gateway's response vocabulary to the
// canonical status enum. Unrecognized values map to desconocido (pending
// equivalent), never silently dropped.
func MapGatewayStatus(response, code string) models.Status {
	switch {
	case response == "Aceptada" || code == "1":
		return models.StatusApproved
	case response == "Pendiente" || code == "2":
		return models.StatusPending
	case response == "Fallida" || response == "Rechazada" || code == "3" || code == "4":
		return models.StatusRejected
	case response == "Cancelada":
		return models.StatusCanceled
	case response == "Expirada" || response == "Caducada":
		return models.StatusExpired
	case response == "Reversada":
		return models.StatusRefunded
	default:
		return models.StatusUnknown
	}
}
