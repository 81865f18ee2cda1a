package shipping

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"storefront/internal/dbtest"
)

func dialShipping(t *testing.T, svc *Service) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterGRPC(s, svc)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestQuoteRPC(t *testing.T) {
	svc := NewService(dbtest.New(t))
	ctx := context.Background()
	require.NoError(t, svc.SaveSettings(ctx, nil, []RateInput{{ZoneID: 2, RangeID: 4, Price: kg(24.9)}}))

	conn := dialShipping(t, svc)

	q, err := QuoteRPC(ctx, conn, "at", 4)
	require.NoError(t, err)
	assert.Equal(t, "Europa", q.Zone)
	assert.Equal(t, "3–5 kg", q.Range)
	assert.True(t, q.Price.Equal(kg(24.9)))
}

func TestQuoteRPCNoZone(t *testing.T) {
	svc := NewService(dbtest.New(t))
	ctx := context.Background()
	require.NoError(t, svc.SaveSettings(ctx, []ZoneToggle{{ID: 1}, {ID: 2}, {ID: 3}}, nil))

	_, err := QuoteRPC(ctx, dialShipping(t, svc), "CH", 1)
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}
