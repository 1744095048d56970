package csg

import (
	"context"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogList(t *testing.T) {
	codec, _ := newTestCodec(t)

	var pointLookups int32
	stub := &vendorStub{t: t, codec: codec, handle: func(op string, payload map[string]any, w *stubReply) {
		switch op {
		case OpQueryBindEleUsers:
			w.data = []map[string]any{
				{
					"areaCode":      "030000",
					"bindingId":     "bind-1",
					"eleCustNumber": "0300001234567890",
					"eleAddress":    "1 Example Rd",
					"userName":      "Zhang",
				},
				{
					"areaCode":      "440000",
					"bindingId":     "bind-2",
					"eleCustNumber": "4400009876543210",
					"eleAddress":    "2 Example Rd",
					"userName":      "Zhang",
				},
			}
		case OpQueryMeteringPoint:
			atomic.AddInt32(&pointLookups, 1)
			w.data = []map[string]any{{"meteringPointId": "mp-" + payload["areaCode"].(string)}}
		default:
			t.Errorf("unexpected op %q", op)
		}
	}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	client := newTestClient(t, srv, codec, ChannelWeb)
	require.NoError(t, client.RestoreSession(Session{Token: "tok", Channel: ChannelWeb, AcquiredAt: time.Now()}))

	catalog, err := NewCatalog(client, 16, quietLogger())
	require.NoError(t, err)

	accounts, err := catalog.List(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	assert.Equal(t, ElectricityAccount{
		AccountNumber:   "0300001234567890",
		AreaCode:        "030000",
		EleCustomerID:   "bind-1",
		MeteringPointID: "mp-030000",
		Address:         "1 Example Rd",
		UserName:        "Zhang",
	}, accounts[0])
	assert.Equal(t, "mp-440000", accounts[1].MeteringPointID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&pointLookups))

	// second List resolves metering points from the cache
	again, err := catalog.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, accounts, again)
	assert.Equal(t, int32(2), atomic.LoadInt32(&pointLookups))
}

func TestCatalogListSchemaErrors(t *testing.T) {
	codec, _ := newTestCodec(t)

	t.Run("missing account number", func(t *testing.T) {
		stub := &vendorStub{t: t, codec: codec, handle: func(op string, payload map[string]any, w *stubReply) {
			w.data = []map[string]any{{"bindingId": "bind-1"}}
		}}
		srv := httptest.NewServer(stub)
		defer srv.Close()

		client := newTestClient(t, srv, codec, ChannelWeb)
		require.NoError(t, client.RestoreSession(Session{Token: "tok", Channel: ChannelWeb, AcquiredAt: time.Now()}))
		catalog, err := NewCatalog(client, 16, quietLogger())
		require.NoError(t, err)

		_, err = catalog.List(context.Background())
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("no metering point", func(t *testing.T) {
		stub := &vendorStub{t: t, codec: codec, handle: func(op string, payload map[string]any, w *stubReply) {
			switch op {
			case OpQueryBindEleUsers:
				w.data = []map[string]any{{
					"areaCode":      "030000",
					"bindingId":     "bind-1",
					"eleCustNumber": "0300001234567890",
				}}
			case OpQueryMeteringPoint:
				w.data = []map[string]any{}
			}
		}}
		srv := httptest.NewServer(stub)
		defer srv.Close()

		client := newTestClient(t, srv, codec, ChannelWeb)
		require.NoError(t, client.RestoreSession(Session{Token: "tok", Channel: ChannelWeb, AcquiredAt: time.Now()}))
		catalog, err := NewCatalog(client, 16, quietLogger())
		require.NoError(t, err)

		_, err = catalog.List(context.Background())
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})
}
