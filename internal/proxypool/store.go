package proxypool

import (
	"log"
	"net/http"
	"net/url"
	"time"

	"gorm.io/gorm"

	"github.com/zalogate/zalogate/internal/database"
)

// DBStore persists the proxy list in the proxies table, ordered by position.
type DBStore struct {
	db *gorm.DB
}

func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

func (s *DBStore) Load() ([]string, error) {
	var rows []database.Proxy
	if err := s.db.Order("position, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	urls := make([]string, len(rows))
	for i, r := range rows {
		urls[i] = r.URL
	}
	return urls, nil
}

func (s *DBStore) Save(urls []string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&database.Proxy{}).Error; err != nil {
			return err
		}
		for i, u := range urls {
			if err := tx.Create(&database.Proxy{URL: u, Position: i}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// aliveCheckTarget is what a proxy must be able to reach to count as alive.
var aliveCheckTarget = "https://zalo.me"

const aliveCheckTimeout = 5 * time.Second

// CheckAlive reports whether the platform is reachable through the proxy.
func CheckAlive(proxyURL string) bool {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return false
	}
	client := &http.Client{
		Timeout:   aliveCheckTimeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(u)},
	}
	resp, err := client.Get(aliveCheckTarget)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}

// SweepAlive checks every proxy in the pool and logs dead ones. Wired to the
// cron schedule in main.
func SweepAlive(p *Pool) {
	for _, info := range p.Snapshot() {
		if !CheckAlive(info.URL) {
			log.Printf("[proxy] aliveness check failed for %s (%d/%d accounts bound)",
				info.URL, info.Load, info.Capacity)
		}
	}
}
