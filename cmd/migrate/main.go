package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/ManuelReschke/LeadHub/internal/pkg/config"
	"github.com/ManuelReschke/LeadHub/internal/pkg/env"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	// Lade Umgebungsvariablen aus .env-Datei
	_ = env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	db, err := config.LoadDB(env.GetEnv)
	if err != nil {
		log.Fatalf("Ungültige Datenbankkonfiguration: %v", err)
	}
	dbURL := fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
		db.User, db.Password, db.Host, db.Port, db.Name)
	log.Printf("Verbinde mit Datenbank: %s@%s:%s/%s", db.User, db.Host, db.Port, db.Name)

	source := "file://" + env.GetEnv("MIGRATIONS_PATH", "migrations")
	m, err := migrate.New(source, dbURL)
	if err != nil {
		log.Fatalf("Fehler beim Initialisieren der Migration: %v", err)
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Printf("Fehler beim Schließen der Migrationsressourcen: %v, %v", sourceErr, dbErr)
		}
	}()

	if err := run(m, os.Args[1], os.Args[2:]); err != nil {
		log.Fatal(err)
	}
}

func run(m *migrate.Migrate, command string, args []string) error {
	switch command {
	case "up":
		return report(m.Up(), "Migrationen erfolgreich ausgeführt")

	case "down":
		return report(m.Steps(-1), "Letzte Migration erfolgreich zurückgerollt")

	case "goto":
		if len(args) < 1 {
			return errors.New("bitte eine Versionsnummer angeben")
		}
		version, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("ungültige Versionsnummer: %w", err)
		}
		return report(m.Migrate(uint(version)), fmt.Sprintf("Migration zur Version %d erfolgreich", version))

	case "force":
		if len(args) < 1 {
			return errors.New("bitte eine Versionsnummer angeben")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("ungültige Versionsnummer: %w", err)
		}
		return report(m.Force(version), fmt.Sprintf("Version auf %d gesetzt", version))

	case "status":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Println("Keine Migrationen wurden bisher ausgeführt")
			return nil
		}
		if err != nil {
			return fmt.Errorf("fehler beim Abrufen der Migrationsversion: %w", err)
		}
		dirtyStatus := ""
		if dirty {
			dirtyStatus = " (dirty)"
		}
		log.Printf("Aktuelle Migrationsversion: %d%s", version, dirtyStatus)
		return nil

	default:
		printUsage()
		os.Exit(1)
	}
	return nil
}

func report(err error, success string) error {
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Println("Keine Änderungen: Datenbank ist bereits auf dem neuesten Stand")
		return nil
	case err != nil:
		return fmt.Errorf("migration fehlgeschlagen: %w", err)
	}
	log.Println(success)
	return nil
}

func printUsage() {
	fmt.Println("Verwendung: go run cmd/migrate/main.go [command]")
	fmt.Println("Verfügbare Befehle:")
	fmt.Println("  up      - Führe alle ausstehenden Migrationen aus")
	fmt.Println("  down    - Rolle die letzte Migration zurück")
	fmt.Println("  goto N  - Migriere zur Version N")
	fmt.Println("  force N - Setze die Version nach einer fehlgeschlagenen Migration")
	fmt.Println("  status  - Zeige aktuelle Migrationsversion an")
}
