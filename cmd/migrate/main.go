package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/nsem-asso/backoffice/internal/pkg/env"
)

func main() {
	// Charge les variables d'environnement depuis le fichier .env
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	// Connexion a la base de donnees pour les migrations
	dbURL := fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
		env.GetEnv("DB_USER", "asso"),
		env.GetEnv("DB_PASSWORD", "asso"),
		env.GetEnv("DB_HOST", "db"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", "asso_backoffice"),
	)

	log.Printf("Connexion a la base: %s@%s:%s/%s",
		env.GetEnv("DB_USER", "asso"),
		env.GetEnv("DB_HOST", "db"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", "asso_backoffice"),
	)

	m, err := migrate.New(
		"file://migrations", // chemin des fichiers de migration
		dbURL,
	)
	if err != nil {
		log.Fatalf("Erreur d'initialisation de la migration: %v", err)
	}

	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Printf("Erreur a la fermeture des ressources de migration: %v, %v", sourceErr, dbErr)
		}
	}()

	switch command {
	case "up":
		// Applique toutes les migrations en attente
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("Erreur lors de l'application des migrations: %v", err)
		} else if err == migrate.ErrNoChange {
			log.Println("Aucun changement: la base est deja a jour")
		} else {
			log.Println("Migrations appliquees avec succes")
		}

	case "down":
		// Annule la derniere migration
		if err := m.Steps(-1); err != nil {
			log.Fatalf("Erreur lors de l'annulation de la derniere migration: %v", err)
		} else {
			log.Println("Derniere migration annulee avec succes")
		}

	case "goto":
		if len(os.Args) < 3 {
			log.Fatalf("Veuillez indiquer un numero de version")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			log.Fatalf("Numero de version invalide: %v", err)
		}

		// Migre vers une version precise
		if err := m.Migrate(uint(version)); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("Erreur lors de la migration vers la version %d: %v", version, err)
		} else if err == migrate.ErrNoChange {
			log.Printf("Aucun changement: la base est deja en version %d", version)
		} else {
			log.Printf("Migration vers la version %d reussie", version)
		}

	case "status":
		// Affiche la version de migration courante
		version, dirty, err := m.Version()
		if err != nil {
			if err == migrate.ErrNilVersion {
				log.Println("Aucune migration n'a encore ete appliquee")
			} else {
				log.Fatalf("Erreur lors de la lecture de la version de migration: %v", err)
			}
		} else {
			dirtyStatus := ""
			if dirty {
				dirtyStatus = " (dirty)"
			}
			log.Printf("Version de migration courante: %d%s", version, dirtyStatus)
		}

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Utilisation: go run cmd/migrate/main.go [command]")
	fmt.Println("Commandes disponibles:")
	fmt.Println("  up     - Applique toutes les migrations en attente")
	fmt.Println("  down   - Annule la derniere migration")
	fmt.Println("  goto N - Migre vers la version N")
	fmt.Println("  status - Affiche la version de migration courante")
}
