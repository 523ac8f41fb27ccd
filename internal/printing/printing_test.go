package printing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillpoint/backend/internal/domain"
)

func TestCode39HexChunks(t *testing.T) {
	chunks := Code39Hex("gv-12a!")
	require.Len(t, chunks, 5)
	assert.Equal(t, "1d 68 50", chunks[1])
	assert.Equal(t, "1d 6b 04 47 56 2d 31 32 41 00", chunks[4])
	assert.Nil(t, Code39Hex("!!"))
}

func TestDecodeHexAndEncode(t *testing.T) {
	raw, err := DecodeHex([]string{"1b 40", "", "1d6b"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1b, 0x40, 0x1d, 0x6b}, raw)

	_, err = DecodeHex([]string{"zz"})
	assert.Error(t, err)

	data, err := Encode(domain.PrintJob{Text: "hi", Hex: []string{"1b 40"}, LineFeeds: 2, Cut: true})
	require.NoError(t, err)
	assert.Equal(t, []byte{'h', 'i', 0x1b, 0x40, LF, LF, GS, 'V', 0x00}, data)
}

func TestKeyValuePadsToWidth(t *testing.T) {
	doc := &Document{width: 20}
	doc.KeyValue("Total", "GBP 1.00")
	assert.Equal(t, "Total       GBP 1.00\n", doc.String())
}

func TestGiftReceiptOmitsPrices(t *testing.T) {
	b := NewBuilder(Layout{Width: 32, StoreName: "Corner Shop"})
	sale := domain.SaleRecord{
		InvoiceName: "SINV-0042",
		Lines:       []domain.CartLine{{ItemCode: "A", Name: "Scarf", Qty: 1, RateCents: 1299}},
		TotalCents:  1299,
	}
	gift := b.GiftReceipt(sale, "T1")
	assert.Equal(t, domain.PrintKindGiftReceipt, gift.Kind)
	assert.Contains(t, gift.Text, "Scarf")
	assert.NotContains(t, gift.Text, "12.99")

	receipt := b.SaleReceipt(sale, "T1")
	assert.Contains(t, receipt.Text, "12.99")
	assert.Contains(t, receipt.Text, "Corner Shop")
	assert.NotEmpty(t, receipt.Hex)
}

func TestVoucherSlipCarriesTermsAndBarcode(t *testing.T) {
	b := NewBuilder(Layout{})
	job := b.VoucherSlip(domain.IssuedVoucherSlip{Code: "GV-77", AmountCents: 2500, Cashier: "Ann"})
	assert.Contains(t, job.Text, "GBP 25.00")
	for _, term := range DefaultVoucherTerms {
		assert.Contains(t, job.Text, term)
	}
	require.NotEmpty(t, job.Hex)
	assert.True(t, strings.HasPrefix(job.Hex[len(job.Hex)-1], "1d 6b 04"))
}

func TestFXSlipAndReports(t *testing.T) {
	b := NewBuilder(Layout{})
	slip := b.FXSlip("SINV-1", domain.FXSlip{GBPTotalCents: 10000, TargetEURCents: 13500, EURReceivedCents: 14000, EffectiveRate: decimal.RequireFromString("1.35"), Mode: "up"}, "")
	assert.Contains(t, slip.Text, "1.3500")
	assert.Contains(t, slip.Text, "EUR 140.00")

	z := b.TillReport(domain.TillReport{Kind: "Z", Date: "2026-03-02"})
	assert.Equal(t, domain.PrintKindZRead, z.Kind)
	assert.Contains(t, z.Text, "END OF DAY")
	assert.Contains(t, z.Text, "\x1b\x61\x01\x1d\x21\x01Z READ\n", "report kind prints tall and centred")
	assert.Contains(t, z.Text, "\x1d\x21\x10NET GBP", "net total prints wide")
	assert.Contains(t, z.Text, "\x1b\x61\x02Printed ", "print stamp is right aligned")

	rec := b.Reconciliation(domain.ReconciliationReport{VarianceCents: -2500, SuggestedBreak: []domain.DenominationCount{{FaceCents: 2000, Count: 1}, {FaceCents: 500, Count: 1}}}, "")
	assert.Contains(t, rec.Text, "SHORT")
	assert.Contains(t, rec.Text, "1x20.00 1x5.00")
}

func TestAgentPrinterPostsJob(t *testing.T) {
	var got domain.PrintJob
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/print", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewAgentPrinter(srv.URL+"/", time.Second)
	require.NoError(t, p.Print(context.Background(), domain.PrintJob{Text: "hello", LineFeeds: 3, Cut: true}))
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, 3, got.LineFeeds)
}

func TestAgentPrinterFailureWrapsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "paper out", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewAgentPrinter(srv.URL, time.Second).Print(context.Background(), domain.PrintJob{Text: "x"})
	assert.True(t, errors.Is(err, ErrDeliveryFailed))
	assert.Contains(t, err.Error(), "paper out")
}

func TestNetworkPrinterWritesBytes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	p := NewNetworkPrinter(ln.Addr().String())
	require.NoError(t, p.Print(context.Background(), domain.PrintJob{Text: "ok", Cut: true}))

	select {
	case data := <-received:
		assert.Equal(t, []byte{'o', 'k', GS, 'V', 0x00}, data)
	case <-time.After(2 * time.Second):
		t.Fatal("printer received nothing")
	}
}

func TestNetworkPrinterUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	err = NewNetworkPrinter(addr).Print(context.Background(), domain.PrintJob{Text: "x"})
	assert.ErrorIs(t, err, ErrDeliveryFailed)
}
