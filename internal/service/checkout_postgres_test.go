package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	d "github.com/fjod/checkout-engine/domain"
	r "github.com/fjod/checkout-engine/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

type pgFixture struct {
	repo   *r.Repository
	db     *sql.DB
	shopID uuid.UUID
}

func setupPostgres(t *testing.T) (*pgFixture, func()) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &r.Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "../repository/migrations",
	}
	repo, err := r.NewRepository(creds)
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations(creds))

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)

	f := &pgFixture{repo: repo, db: db, shopID: uuid.New()}
	_, err = db.ExecContext(ctx,
		`INSERT INTO shops (id, owner_user_id, return_policy_type, return_window_days) VALUES ($1, $2, 'returns', 30)`,
		f.shopID, sellerID)
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
		repo.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return f, cleanup
}

func (f *pgFixture) listing(t *testing.T, price int64, qty int32) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := f.db.ExecContext(context.Background(),
		`INSERT INTO listings (id, shop_id, seller_id, title, slug, status, base_price, base_quantity)
		 VALUES ($1, $2, $3, 'Mug', 'mug', 'published', $4, $5)`,
		id, f.shopID, sellerID, price, qty)
	require.NoError(t, err)
	return id
}

func (f *pgFixture) addLines(t *testing.T, userID string, listingIDs ...uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	err := f.repo.WithTx(ctx, func(tx r.Tx) error {
		cart, err := tx.EnsureCart(ctx, userID)
		if err != nil {
			return err
		}
		for i, listingID := range listingIDs {
			line := &d.CartLine{
				ID:        uuid.New(),
				ListingID: listingID,
				Quantity:  1,
				AddedAt:   now.Add(time.Duration(i) * time.Millisecond),
			}
			if err := tx.AddCartLine(ctx, cart.ID, line); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func (f *pgFixture) stock(t *testing.T, listingID uuid.UUID) int32 {
	t.Helper()
	var qty int32
	err := f.db.QueryRowContext(context.Background(),
		`SELECT base_quantity FROM listings WHERE id = $1`, listingID).Scan(&qty)
	require.NoError(t, err)
	return qty
}

func (f *pgFixture) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func TestCheckoutPostgres_ConcurrentSameKeyCreatesOneOrder(t *testing.T) {
	f, cleanup := setupPostgres(t)
	defer cleanup()

	listingID := f.listing(t, 1500, 10)
	f.addLines(t, buyerID, listingID)
	svc := NewCheckoutService(f.repo, Config{})

	const workers = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ids   = make(map[uuid.UUID]int)
		fresh int
	)
	start := make(chan struct{})
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			resp, err := svc.Checkout(context.Background(), checkoutRequest(buyerID, "same-key"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[resp.Order.ID]++
			if !resp.Replayed {
				fresh++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, fresh)
	for _, n := range ids {
		assert.Equal(t, workers, n)
	}
	assert.Equal(t, int32(9), f.stock(t, listingID))
	assert.Equal(t, 1, f.count(t, "orders"))
	assert.Equal(t, 1, f.count(t, "outbox_events"))
	assert.Equal(t, 0, f.count(t, "cart_lines"))
}

func TestCheckoutPostgres_OppositeLineOrderDoesNotDeadlock(t *testing.T) {
	f, cleanup := setupPostgres(t)
	defer cleanup()

	a := f.listing(t, 100, 50)
	b := f.listing(t, 200, 50)
	const buyers = 10
	for i := range buyers {
		if i%2 == 0 {
			f.addLines(t, buyerName(i), a, b)
		} else {
			f.addLines(t, buyerName(i), b, a)
		}
	}
	svc := NewCheckoutService(f.repo, Config{})

	var wg sync.WaitGroup
	errs := make([]error, buyers)
	start := make(chan struct{})
	for i := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = svc.Checkout(context.Background(), checkoutRequest(buyerName(i), "key-"+buyerName(i)))
		}()
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, buyerName(i))
	}
	assert.Equal(t, int32(50-buyers), f.stock(t, a))
	assert.Equal(t, int32(50-buyers), f.stock(t, b))
	assert.Equal(t, buyers, f.count(t, "orders"))
}

func buyerName(i int) string {
	return "buyer-" + string(rune('a'+i))
}
