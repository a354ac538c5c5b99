package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/auszug/internal/document"
	"github.com/cleared-dev/auszug/internal/model"
)

const testdata = "../../testdata"

func load(t *testing.T, name string) *document.Document {
	t.Helper()
	doc, err := document.NewLoader().Load(context.Background(), filepath.Join(testdata, "statements", name))
	require.NoError(t, err)
	return doc
}

func readPage(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(testdata, "pages", name))
	require.NoError(t, err)
	return string(b)
}

func parse(t *testing.T, p Parser, doc *document.Document) *model.Statement {
	t.Helper()
	stmt, err := p.Parse(context.Background(), doc, Options{})
	require.NoError(t, err)
	return stmt
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func assertBalance(t *testing.T, b *model.Balance, date, amount string) {
	t.Helper()
	require.NotNil(t, b)
	assert.Equal(t, day(date), b.Date)
	assert.Equal(t, amount, b.Amount.StringFixed(2))
}

func TestSparkasse_SinglePage(t *testing.T) {
	stmt := parse(t, &SparkasseParser{}, load(t, "sparkasse_2025-09.txt"))

	assert.Equal(t, sparkasseIBAN, stmt.IBAN)
	assert.Empty(t, stmt.Errors)
	require.Len(t, stmt.Transactions, 1)

	txn := stmt.Transactions[0]
	assert.Equal(t, day("2025-09-04"), txn.BookingDate)
	require.NotNil(t, txn.ValueDate)
	assert.Equal(t, day("2025-09-04"), *txn.ValueDate)
	assert.Equal(t, "-1234.56", txn.Amount.StringFixed(2))
	assert.Equal(t, "MIETE SEPT", txn.Description)
	assert.Equal(t, 7, txn.Line)

	assertBalance(t, stmt.Opening, "2025-08-31", "13580.23")
	assertBalance(t, stmt.Closing, "2025-09-30", "12345.67")
	require.NotNil(t, stmt.Period)
	assert.Equal(t, day("2025-09-30"), stmt.Period.To)
}

func TestSparkasse_ContinuationAndPageBreak(t *testing.T) {
	stmt := parse(t, &SparkasseParser{}, load(t, "sparkasse_2025-08.txt"))
	require.Len(t, stmt.Transactions, 2)

	first := stmt.Transactions[0]
	assert.Equal(t, "Gutschrift Autohaus Nord GmbH IBAN DE44 5001 0517 5407 3249 31", first.Description)
	assert.Equal(t, "DE44500105175407324931", first.CounterpartyIBAN)
	assert.Equal(t, "1000.00", first.Amount.StringFixed(2))

	second := stmt.Transactions[1]
	assert.Nil(t, second.ValueDate)
	assert.Equal(t, "Lastschrift Stadtwerke Landshut Strom August", second.Description)
	assert.Equal(t, "-1000.00", second.Amount.StringFixed(2))
}

func TestSparkasse_RowErrorsDoNotAbort(t *testing.T) {
	doc := document.FromText("spk.txt", document.KindText, `IBAN DE58 7435 0000 0001 2345 67
Kontostand am 31.08.2025 100,00 EUR
01.09.2025 Kontoführung 12,5O
Entgelt
31.02.2025 Falsches Datum -1,00
02.09.2025 Gutschrift 10,00
Kontostand am 30.09.2025 110,00 EUR *`)
	stmt := parse(t, &SparkasseParser{}, doc)

	require.Len(t, stmt.Transactions, 1)
	assert.Equal(t, "Gutschrift", stmt.Transactions[0].Description)
	require.Len(t, stmt.Errors, 2)
	assert.Equal(t, 3, stmt.Errors[0].Line)
	assert.Equal(t, 5, stmt.Errors[1].Line)
}

func TestSparkasse_UndatedClosingWithoutRows(t *testing.T) {
	doc := document.FromText("spk.txt", document.KindText, `IBAN DE58 7435 0000 0001 2345 67
Kontostand am 31.08.2025 100,00 EUR
100,00 EUR *`)
	stmt := parse(t, &SparkasseParser{}, doc)

	assert.Empty(t, stmt.Transactions)
	assertBalance(t, stmt.Opening, "2025-08-31", "100.00")
	assert.Nil(t, stmt.Closing)
	require.Len(t, stmt.Errors, 1)
	assert.Equal(t, 3, stmt.Errors[0].Line)
	for _, b := range stmt.Balances() {
		assert.False(t, b.Date.IsZero())
	}
}

func TestSparkasse_NoContent(t *testing.T) {
	doc := document.FromText("spk.txt", document.KindText, "IBAN DE58 7435 0000 0001 2345 67\nnichts")
	_, err := (&SparkasseParser{}).Parse(context.Background(), doc, Options{})
	assert.ErrorIs(t, err, ErrStatementParse)

	doc = document.FromText("spk.txt", document.KindText, "04.09.2025 MIETE -1,00")
	_, err = (&SparkasseParser{}).Parse(context.Background(), doc, Options{})
	assert.ErrorIs(t, err, ErrStatementParse, "no account identifier")
}

func TestHVB_MultiPage(t *testing.T) {
	doc := document.FromPages("HVB_2025-11.pdf", readPage(t, "hvb_2025-11_p1.txt"), readPage(t, "hvb_2025-11_p2.txt"))
	stmt := parse(t, &HVBParser{}, doc)

	assert.Equal(t, hvbIBAN, stmt.IBAN)
	assert.Empty(t, stmt.Errors)
	require.Len(t, stmt.Transactions, 4)

	var amounts []string
	for _, txn := range stmt.Transactions {
		amounts = append(amounts, txn.Amount.StringFixed(2))
	}
	assert.Equal(t, []string{"12500.00", "-1492.68", "20000.00", "-20000.00"}, amounts)

	assert.Equal(t, "SEPA-Überweisung Autohaus Nord Rechnung 4711 IBAN DE44 5001 0517 5407 3249 31", stmt.Transactions[0].Description)
	assert.Equal(t, "DE44500105175407324931", stmt.Transactions[0].CounterpartyIBAN)
	assert.Equal(t, "Lastschrift Stadtwerke", stmt.Transactions[1].Description)
	assert.Equal(t, "Gutschrift Leasing Leasingrate November", stmt.Transactions[2].Description)
	require.NotNil(t, stmt.Transactions[2].ValueDate)
	assert.Equal(t, day("2025-11-11"), *stmt.Transactions[2].ValueDate)

	assertBalance(t, stmt.Opening, "2025-10-31", "150000.00")
	assertBalance(t, stmt.Closing, "2025-11-18", "161007.32")
}

func TestVRMonthly(t *testing.T) {
	stmt := parse(t, &VRMonthlyParser{}, load(t, "vr_2025-10.txt"))

	assert.Equal(t, "DE33743690880000123456", stmt.IBAN)
	require.Len(t, stmt.Transactions, 3)

	first := stmt.Transactions[0]
	assert.Equal(t, day("2025-10-01"), first.BookingDate)
	assert.Equal(t, "-1200.00", first.Amount.StringFixed(2))
	assert.Equal(t, "Überweisung Autohaus Süd GmbH Rechnung 2025-0815", first.Description)
	assert.Equal(t, "Autohaus Süd GmbH", first.CounterpartyName)

	second := stmt.Transactions[1]
	assert.Equal(t, "3500.00", second.Amount.StringFixed(2))
	assert.Equal(t, "Gutschrift Leasingrate Oktober", second.Description)
	assert.Empty(t, second.CounterpartyName)

	third := stmt.Transactions[2]
	assert.Equal(t, "-12.50", third.Amount.StringFixed(2))
	assert.Equal(t, "Abschluss", third.Description)

	require.Len(t, stmt.Errors, 1)
	assert.Equal(t, 14, stmt.Errors[0].Line)
	assert.Contains(t, stmt.Errors[0].Message, "without amount")

	assertBalance(t, stmt.Opening, "2025-09-30", "25000.00")
	assertBalance(t, stmt.Closing, "2025-10-31", "27287.50")
}

func TestVRMonthly_YearRollover(t *testing.T) {
	doc := document.FromText("vr.txt", document.KindText, `IBAN DE33 7436 9088 0000 1234 56
Alter Kontostand vom 30.12.2025 100,00 H
31.12. 31.12. Zinsen 1,00 H
02.01. 02.01. Entgelt 2,00 S
Neuer Kontostand vom 05.01.2026 99,00 H`)
	stmt := parse(t, &VRMonthlyParser{}, doc)
	require.Len(t, stmt.Transactions, 2)
	assert.Equal(t, day("2025-12-31"), stmt.Transactions[0].BookingDate)
	assert.Equal(t, day("2026-01-02"), stmt.Transactions[1].BookingDate)
}

func TestLandau(t *testing.T) {
	stmt := parse(t, &LandauParser{}, load(t, "landau_2025-11.txt"))

	assert.Equal(t, "DE77743626630000098765", stmt.IBAN)
	assert.Empty(t, stmt.Errors)
	require.Len(t, stmt.Transactions, 2)

	first := stmt.Transactions[0]
	assert.Equal(t, day("2025-11-03"), first.BookingDate)
	assert.Equal(t, "2150.00", first.Amount.StringFixed(2))
	assert.Equal(t, "Autohaus Bauer KG", first.CounterpartyName)
	assert.Equal(t, "DE44500105175407324931", first.CounterpartyIBAN)
	assert.Equal(t, "Autohaus Bauer KG Fahrzeugrechnung 2025-311 Kundennr 4471", first.Description)

	second := stmt.Transactions[1]
	assert.Equal(t, "-950.00", second.Amount.StringFixed(2))
	assert.Equal(t, "DE02120300000000202051", second.CounterpartyIBAN)
	assert.Equal(t, "Finanzamt Dingolfing USt Oktober 2025", second.Description)

	assertBalance(t, stmt.Opening, "2025-10-31", "8000.00")
	assertBalance(t, stmt.Closing, "2025-11-28", "9200.00")
}

func TestGenoOnline(t *testing.T) {
	stmt := parse(t, &GenoOnlineParser{}, load(t, "geno_online_2025-11.csv"))

	assert.Equal(t, "DE82743690880000555000", stmt.IBAN)
	require.Len(t, stmt.Transactions, 4)

	first := stmt.Transactions[0]
	assert.Equal(t, day("2025-11-05"), first.BookingDate)
	assert.Equal(t, "-250.00", first.Amount.StringFixed(2))
	assert.Equal(t, "Lastschrift Strom Oktober Vertrag 88", first.Description)
	assert.Equal(t, "Stadtwerke Dingolfing", first.CounterpartyName)
	assert.Equal(t, "DE02120300000000202051", first.CounterpartyIBAN)
	require.NotNil(t, first.RunningBalance)
	assert.Equal(t, "4250.00", first.RunningBalance.StringFixed(2))
	assert.Equal(t, 3, first.Line)

	require.Len(t, stmt.Errors, 2)
	assert.Equal(t, 8, stmt.Errors[0].Line)
	assert.Contains(t, stmt.Errors[1].Message, "belongs to account")

	// Newest-first export: the day's balance is the one after its last booking.
	assertBalance(t, stmt.Closing, "2025-11-05", "4250.00")
	require.Len(t, stmt.DailyBalances, 2)
	assert.Equal(t, day("2025-11-03"), stmt.DailyBalances[0].Date)
	assert.Equal(t, "4000.00", stmt.DailyBalances[0].Amount.StringFixed(2))
	assert.Equal(t, day("2025-11-04"), stmt.DailyBalances[1].Date)
	assert.Equal(t, "4500.00", stmt.DailyBalances[1].Amount.StringFixed(2))
	assert.Nil(t, stmt.Opening)
}

func TestGenoOnline_AscendingSameDay(t *testing.T) {
	doc := document.FromText("u.csv", document.KindCSV, `Buchungstag;Betrag;Saldo nach Buchung;IBAN Auftragskonto
03.11.2025;10,00;110,00;DE82743690880000555000
03.11.2025;-5,00;105,00;DE82743690880000555000`)
	stmt := parse(t, &GenoOnlineParser{}, doc)
	assertBalance(t, stmt.Closing, "2025-11-03", "105.00")
	assert.Empty(t, stmt.DailyBalances)
}

func TestGenoOnline_Windows1252(t *testing.T) {
	doc := load(t, "geno_online_cp1252.csv")
	assert.Equal(t, document.EncodingCP1252, doc.Encoding)

	stmt := parse(t, &GenoOnlineParser{}, doc)
	require.Len(t, stmt.Transactions, 1)
	assert.Equal(t, "Müller", stmt.Transactions[0].CounterpartyName)
	assert.Equal(t, "Gutschrift Grüße", stmt.Transactions[0].Description)
}

func TestGenoOnline_MissingHeader(t *testing.T) {
	doc := document.FromText("u.csv", document.KindCSV, "a;b;c\n1;2;3")
	_, err := (&GenoOnlineParser{}).Parse(context.Background(), doc, Options{})
	assert.ErrorIs(t, err, ErrStatementParse)
}

func TestMT940(t *testing.T) {
	stmt := parse(t, &MT940Parser{}, load(t, "sparkasse_2025-10.sta"))

	assert.Equal(t, sparkasseIBAN, stmt.IBAN)
	assert.Equal(t, "1234567", stmt.LegacyNumber)
	require.Len(t, stmt.Transactions, 3)

	rent := stmt.Transactions[0]
	assert.Equal(t, day("2025-10-01"), rent.BookingDate)
	assert.Equal(t, "-1234.56", rent.Amount.StringFixed(2))
	assert.Equal(t, "DAUERAUFTRAG MIETE OKT", rent.Description)
	assert.Equal(t, "Immobilien Verwaltung GmbH", rent.CounterpartyName)
	assert.Equal(t, "DE44500105175407324931", rent.CounterpartyIBAN)

	credit := stmt.Transactions[1]
	assert.Equal(t, "500.00", credit.Amount.StringFixed(2))
	assert.Equal(t, "GUTSCHRIFT Rechnung 4711 Autohaus", credit.Description)
	assert.Equal(t, "Autohaus Nord GmbH", credit.CounterpartyName)

	assert.Equal(t, "ENTGELT Kontofuehrung", stmt.Transactions[2].Description)

	assertBalance(t, stmt.Opening, "2025-09-30", "12345.67")
	assertBalance(t, stmt.Closing, "2025-10-31", "11601.11")
	require.Len(t, stmt.DailyBalances, 1)
	assert.Equal(t, day("2025-10-02"), stmt.DailyBalances[0].Date)
	assert.Equal(t, "11611.11", stmt.DailyBalances[0].Amount.StringFixed(2))

	// The third block belongs to another account.
	require.Len(t, stmt.Errors, 1)
	assert.Contains(t, stmt.Errors[0].Message, "skipped")
}

func TestMT940_Entry(t *testing.T) {
	txn, err := mt940Entry("2601021231RD25,00NTRF")
	require.NoError(t, err)
	assert.Equal(t, day("2025-12-31"), txn.BookingDate)
	assert.Equal(t, day("2026-01-02"), *txn.ValueDate)
	assert.Equal(t, "25.00", txn.Amount.StringFixed(2), "reversed debit is a credit")

	txn, err = mt940Entry("251005C7,5")
	require.NoError(t, err)
	assert.Equal(t, day("2025-10-05"), txn.BookingDate)
	assert.Equal(t, "7.50", txn.Amount.StringFixed(2))

	_, err = mt940Entry("garbage")
	assert.Error(t, err)
}

func TestMT940_UnstructuredDetails(t *testing.T) {
	txn := model.StatementTransaction{}
	mt940Details(&txn, "Barauszahlung Filiale")
	assert.Equal(t, "Barauszahlung Filiale", txn.Description)
}

func TestGermanIBAN(t *testing.T) {
	assert.Equal(t, "DE89370400440532013000", GermanIBAN("37040044", "532013000"))
	assert.Equal(t, sparkasseIBAN, GermanIBAN("74350000", "1234567"))
	assert.Empty(t, GermanIBAN("7435", "1"))
	assert.Empty(t, GermanIBAN("74350000", "12345678901"))
}

func TestBindingParseStampsInstitution(t *testing.T) {
	d := newTestDispatcher(t, nil)
	doc := load(t, "sparkasse_2025-10.sta")
	b, err := d.Force("sparkasse", doc.Kind)
	require.NoError(t, err)

	stmt, err := b.Parse(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "sparkasse", stmt.Institution)
	assert.Equal(t, "sparkasse_2025-10.sta", stmt.SourceFile)
	assert.Equal(t, document.EncodingUTF8, stmt.Encoding)
}

func TestParseHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&HVBParser{}).Parse(ctx, document.FromText("x", document.KindText, "a"), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
