package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample users and orders for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		sqlxDB, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}

		db, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: sqlxDB.DB}), &gorm.Config{})
		if err != nil {
			log.Fatalf("failed to init orm: %v", err)
		}

		if clearData {
			for _, table := range []string{"payment_attempts", "orders", "users"} {
				if err := db.Exec(fmt.Sprintf("DELETE FROM %s", table)).Error; err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing data")
		}

		password := "password"
		hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

		users := []struct {
			Email string
			Name  string
			Role  string
		}{
			{"wanjiku@mail.com", "Wanjiku", "customer"},
			{"omondi@mail.com", "Omondi", "customer"},
			{"admin@mail.com", "Store Admin", "admin"},
		}

		for _, u := range users {
			var exists int
			if err := db.Raw("SELECT 1 FROM users WHERE email = ?", u.Email).Row().Scan(&exists); err == nil {
				fmt.Printf("user %s already exists, skipping\n", u.Email)
				continue
			}
			if err := db.Exec("INSERT INTO users (email, name, password_hash, role, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, true, now(), now())",
				u.Email, u.Name, string(hash), u.Role).Error; err != nil {
				log.Fatalf("failed to insert user %s: %v", u.Email, err)
			}
			fmt.Println("Seeded user:", u.Email)
		}

		var wanjikuID int64
		if err := db.Raw("SELECT id FROM users WHERE email = ?", "wanjiku@mail.com").Row().Scan(&wanjikuID); err != nil {
			log.Fatalf("failed to look up seeded user: %v", err)
		}
		var omondiID int64
		if err := db.Raw("SELECT id FROM users WHERE email = ?", "omondi@mail.com").Row().Scan(&omondiID); err != nil {
			log.Fatalf("failed to look up seeded user: %v", err)
		}

		orders := []struct {
			UserID      int64
			Reference   string
			TotalAmount int64
			Currency    string
		}{
			{wanjikuID, "ORD-2025-0001", 150000, "KES"},
			{wanjikuID, "ORD-2025-0002", 899000, "KES"},
			{omondiID, "ORD-2025-0003", 4999, "USD"},
		}

		for _, o := range orders {
			var exists int
			if err := db.Raw("SELECT 1 FROM orders WHERE reference = ?", o.Reference).Row().Scan(&exists); err == nil {
				fmt.Printf("order %s already exists, skipping\n", o.Reference)
				continue
			}
			if err := db.Exec("INSERT INTO orders (user_id, reference, total_amount, currency, is_paid, status, created_at, updated_at) VALUES (?, ?, ?, ?, false, 'pending', now(), now())",
				o.UserID, o.Reference, o.TotalAmount, o.Currency).Error; err != nil {
				log.Fatalf("failed to insert order %s: %v", o.Reference, err)
			}
			fmt.Println("Seeded order:", o.Reference)
		}

		fmt.Println("Seeding complete")
	},
}
