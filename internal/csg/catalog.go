package csg

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
)

// ElectricityAccount is one metered account bound to the authenticated
// identity. Immutable once fetched; the catalog replaces accounts
// wholesale on refresh, never field by field. AccountNumber is the
// unique key - ordering from the server is not stable.
type ElectricityAccount struct {
	AccountNumber   string `json:"account_number"` // 16-digit billing number
	AreaCode        string `json:"area_code"`
	EleCustomerID   string `json:"ele_customer_id"` // may change between logins
	MeteringPointID string `json:"metering_point_id"`
	Address         string `json:"address"`
	UserName        string `json:"user_name"`
}

// Catalog enumerates electricity accounts for an identity. Resolving
// an account's metering point costs an extra round-trip, so resolved
// IDs are cached (they are stable within a session).
type Catalog struct {
	client *Client
	logger *logrus.Logger
	cache  *lru.Cache // bindingID -> metering point ID
}

// NewCatalog builds a catalog over the given client.
func NewCatalog(client *Client, cacheSize int, logger *logrus.Logger) (*Catalog, error) {
	if cacheSize <= 0 {
		cacheSize = 64
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Catalog{client: client, logger: logger, cache: cache}, nil
}

type bindEleUserPayload struct {
	AreaCode      string `json:"areaCode"`
	BindingID     string `json:"bindingId"`
	EleCustNumber string `json:"eleCustNumber"`
	EleAddress    string `json:"eleAddress"`
	UserName      string `json:"userName"`
}

type meteringPointPayload struct {
	MeteringPointID string `json:"meteringPointId"`
}

// List returns every electricity account bound to the identity. The
// full set is returned per call; there is no pagination.
func (t *Catalog) List(ctx context.Context) ([]ElectricityAccount, error) {
	var bound []bindEleUserPayload
	if err := t.client.Call(ctx, OpQueryBindEleUsers, map[string]any{}, &bound); err != nil {
		return nil, err
	}
	t.logger.WithField("count", len(bound)).Debug("bound electricity accounts fetched")

	accounts := make([]ElectricityAccount, 0, len(bound))
	for _, b := range bound {
		if b.EleCustNumber == "" || b.BindingID == "" {
			return nil, schemaErr(OpQueryBindEleUsers, "eleCustNumber/bindingId")
		}
		mpID, err := t.meteringPointID(ctx, b.AreaCode, b.BindingID)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, ElectricityAccount{
			AccountNumber:   b.EleCustNumber,
			AreaCode:        b.AreaCode,
			EleCustomerID:   b.BindingID,
			MeteringPointID: mpID,
			Address:         b.EleAddress,
			UserName:        b.UserName,
		})
	}
	return accounts, nil
}

// meteringPointID resolves (and caches) the metering point for one
// bound account. Individual accounts have exactly one metering point.
func (t *Catalog) meteringPointID(ctx context.Context, areaCode, bindingID string) (string, error) {
	cacheKey := areaCode + "/" + bindingID
	if v, ok := t.cache.Get(cacheKey); ok {
		return v.(string), nil
	}

	payload := map[string]any{
		"areaCode": areaCode,
		"eleCustNumberList": []map[string]any{
			{"eleCustId": bindingID, "areaCode": areaCode},
		},
	}
	var points []meteringPointPayload
	if err := t.client.Call(ctx, OpQueryMeteringPoint, payload, &points); err != nil {
		return "", fmt.Errorf("resolving metering point for %s: %w", bindingID, err)
	}
	if len(points) == 0 || points[0].MeteringPointID == "" {
		return "", schemaErr(OpQueryMeteringPoint, "meteringPointId")
	}

	t.cache.Add(cacheKey, points[0].MeteringPointID)
	return points[0].MeteringPointID, nil
}
