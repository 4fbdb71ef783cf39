package rewriter_test

import (
	"path/filepath"
	"testing"

	"jellyswarrm/internal/idmap"
	"jellyswarrm/internal/jerrors"
	"jellyswarrm/internal/repository"
	"jellyswarrm/internal/rewriter"

	"github.com/stretchr/testify/require"
)

func newMapper(t *testing.T) *idmap.Mapper {
	t.Helper()
	repo, err := repository.NewSQLiteRepository(filepath.Join(t.TempDir(), "rewriter_test.db"))
	require.NoError(t, err)
	require.NoError(t, repo.MigrateUp())
	t.Cleanup(func() { repo.Close() })
	return idmap.New(repo)
}

func TestOutbound_RewritesNestedItemIDs(t *testing.T) {
	mapper := newMapper(t)
	rw := rewriter.New(mapper, "proxy-server-1")

	body := map[string]any{
		"Id": "item-1",
		"Items": []any{
			map[string]any{
				"Id":       "item-2",
				"ParentId": "item-1",
			},
		},
	}

	require.NoError(t, rw.Outbound(body, "http://backend-a", "virtual-user-1"))

	top := body["Id"].(string)
	require.NotEqual(t, "item-1", top)

	nested := body["Items"].([]any)[0].(map[string]any)
	require.NotEqual(t, "item-2", nested["Id"])
	require.Equal(t, top, nested["ParentId"], "ParentId must resolve to the same virtual id as the parent's own Id")
}

func TestOutbound_SubstitutesUserAndServerID(t *testing.T) {
	mapper := newMapper(t)
	rw := rewriter.New(mapper, "proxy-server-1")

	body := map[string]any{
		"UserId":   "origin-user-9",
		"ServerId": "origin-server-9",
	}

	require.NoError(t, rw.Outbound(body, "http://backend-a", "virtual-user-1"))

	require.Equal(t, "virtual-user-1", body["UserId"])
	require.Equal(t, "proxy-server-1", body["ServerId"])
}

func TestOutbound_LeavesUnknownFieldsUntouched(t *testing.T) {
	mapper := newMapper(t)
	rw := rewriter.New(mapper, "proxy-server-1")

	body := map[string]any{
		"Name":            "Some Movie",
		"ProductionYear":  2020,
		"CommunityRating": 8.5,
	}

	require.NoError(t, rw.Outbound(body, "http://backend-a", "virtual-user-1"))

	require.Equal(t, "Some Movie", body["Name"])
	require.Equal(t, 2020, body["ProductionYear"])
}

func TestInbound_RoundTripsOutboundIDs(t *testing.T) {
	mapper := newMapper(t)
	rw := rewriter.New(mapper, "proxy-server-1")

	out := map[string]any{"Id": "item-42"}
	require.NoError(t, rw.Outbound(out, "http://backend-a", "virtual-user-1"))
	virtualID := out["Id"].(string)

	in := map[string]any{"Id": virtualID}
	require.NoError(t, rw.Inbound(in, "http://backend-a"))

	require.Equal(t, "item-42", in["Id"])
}

func TestInbound_UnknownVirtualIDIsMappingMissing(t *testing.T) {
	mapper := newMapper(t)
	rw := rewriter.New(mapper, "proxy-server-1")

	in := map[string]any{"Id": "not-a-real-virtual-id"}
	err := rw.Inbound(in, "http://backend-a")
	require.Error(t, err)
	require.True(t, jerrors.Is(err, jerrors.KindMappingMissing))
}

func TestOutbound_RewritesImageURL(t *testing.T) {
	mapper := newMapper(t)
	rw := rewriter.New(mapper, "proxy-server-1")

	body := map[string]any{
		"ImageUrl": "http://backend-a/Items/item-1/Images/Primary",
	}

	require.NoError(t, rw.Outbound(body, "http://backend-a", "virtual-user-1"))

	require.Equal(t, "/Items/item-1/Images/Primary", body["ImageUrl"])
}
