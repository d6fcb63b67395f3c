package orchestrators

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadmailer/internal/domain/recipient"
)

type mockLeadSaver struct {
	saved []recipient.Recipient
	err   error
}

func (m *mockLeadSaver) Save(_ context.Context, r recipient.Recipient) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, r)
	return nil
}

const leadsCSV = "id,name,email,empresa\n" +
	"l1,Ana,ana@example.com,Acme\n" +
	",Juan,juan@example.com,Beta\n" +
	"l3,Eva,bad-address,Gamma\n"

func TestExecuteImportLeads(t *testing.T) {
	store := &mockLeadSaver{}
	res, err := ExecuteImportLeads(context.Background(), ImportLeadsInput{Reader: strings.NewReader(leadsCSV)},
		ImportLeadsDeps{LeadStore: store, GenerateID: func() string { return "gen-1" }})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, []string{"l1", "gen-1"}, res.IDs)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 4, res.Errors[0].Row)
	require.Len(t, store.saved, 2)
	assert.Equal(t, "Beta", store.saved[1].Field("empresa"))
}

func TestExecuteImportLeads_DryRun(t *testing.T) {
	store := &mockLeadSaver{}
	res, err := ExecuteImportLeads(context.Background(), ImportLeadsInput{Reader: strings.NewReader(leadsCSV), DryRun: true},
		ImportLeadsDeps{LeadStore: store})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 2, res.Imported)
	assert.Empty(t, store.saved)
}

func TestExecuteImportLeads_SaveFailure(t *testing.T) {
	store := &mockLeadSaver{err: errors.New("disk full")}
	res, err := ExecuteImportLeads(context.Background(), ImportLeadsInput{Reader: strings.NewReader(leadsCSV)},
		ImportLeadsDeps{LeadStore: store})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Imported)
	assert.Len(t, res.Errors, 3)
}

func TestExecuteImportLeads_MissingColumn(t *testing.T) {
	_, err := ExecuteImportLeads(context.Background(), ImportLeadsInput{Reader: strings.NewReader("id,name\n")},
		ImportLeadsDeps{LeadStore: &mockLeadSaver{}})
	assert.ErrorIs(t, err, recipient.ErrMissingColumn)
}
