package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "facemark",
	Short: "Face recognition attendance system for classrooms",
	Long: `Facemark is an attendance system backed by face recognition.
Students enroll with a handful of face samples, teachers open timed
attendance sessions, and camera frames posted to the web API are matched
against the enrolled embeddings to mark students present.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
