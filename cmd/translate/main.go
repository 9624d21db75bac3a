// Command translate runs one translation from the terminal: typed text, an
// audio file or a fresh recording, spoken into an MP3 file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/translator-service/internal/app"
	"github.com/book-expert/translator-service/internal/config"
	"github.com/book-expert/translator-service/internal/fileutil"
	"github.com/book-expert/translator-service/internal/language"
	"github.com/book-expert/translator-service/internal/pipeline"
	"github.com/book-expert/translator-service/internal/recorder"
)

// Flag names.
const (
	flagText       = "text"
	flagFile       = "file"
	flagRecord     = "record"
	flagSource     = "source"
	flagTarget     = "target"
	flagDuration   = "duration"
	flagGain       = "gain"
	flagMode       = "mode"
	flagOutput     = "output"
	flagSkipSpeech = "skip-speech"
	flagHealth     = "health"
	flagVerbose    = "verbose"
	flagLanguages  = "languages"
	flagAPIKey     = "api-key"
)

// Flag descriptions.
const (
	flagTextDesc       = "Text to translate"
	flagFileDesc       = "Audio file to transcribe and translate"
	flagRecordDesc     = "Record from the selected source, then translate"
	flagSourceDesc     = "Source language name or code (%s)"
	flagTargetDesc     = "Target language name or code (%s)"
	flagDurationDesc   = "Recording length in seconds"
	flagGainDesc       = "Gain applied to the recording (0 uses the configured default)"
	flagModeDesc       = "Recording source: microphone or system"
	flagOutputDesc     = "Where to save the spoken translation (.mp3)"
	flagSkipSpeechDesc = "Print the translation without synthesizing speech"
	flagHealthDesc     = "Check the speech engine and exit"
	flagVerboseDesc    = "Print timed transcript segments for --file input"
	flagLanguagesDesc  = "List the supported languages and exit"
	flagAPIKeyDesc     = "Groq API key (overrides the positional key and " + config.EnvAPIKey + ")"
)

const usageHeader = `Usage: translate [flags] [API_KEY]

All flags must come before the positional API key. The key may also be given
with --api-key or the ` + config.EnvAPIKey + ` environment variable.

Flags:
`

const (
	logFileName     = "translate-cli.log"
	defaultOutput   = "translation.mp3"
	defaultDuration = 5
	healthTimeout   = 10 * time.Second
)

var (
	errNoInput       = errors.New("one of --text, --file or --record must be provided")
	errTooManyInputs = errors.New("only one of --text, --file or --record may be provided")
	errFlagsAfterKey = errors.New("flags must come before the API key")
)

// verboseTranscriber returns the raw timed transcript document.
type verboseTranscriber interface {
	TranscribeVerbose(ctx context.Context, audioPath, language string) (map[string]any, error)
}

// cliOptions holds the parsed command-line values.
type cliOptions struct {
	text       string
	file       string
	record     bool
	source     string
	target     string
	duration   float64
	gain       float64
	mode       string
	output     string
	skipSpeech bool
	health     bool
	verbose    bool
	languages  bool
	apiKey     string
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts, err := parseFlags(os.Args[1:], os.Getenv)
	if err != nil {
		return err
	}

	if opts.languages {
		listLanguages(os.Stdout)

		return nil
	}

	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Close() }()

	components, err := app.Build(cfg, opts.apiKey, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.health {
		return checkHealth(ctx, components, os.Stdout)
	}

	return execute(ctx, opts, components, os.Stdout)
}

// parseFlags parses args. The API key is --api-key, else the single positional
// argument, else GROQ_API_KEY.
func parseFlags(args []string, getenv func(string) string) (cliOptions, error) {
	var opts cliOptions

	names := strings.Join(language.Names(), ", ")

	flags := flag.NewFlagSet("translate", flag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprint(flags.Output(), usageHeader)
		flags.PrintDefaults()
	}
	flags.StringVar(&opts.text, flagText, "", flagTextDesc)
	flags.StringVar(&opts.file, flagFile, "", flagFileDesc)
	flags.BoolVar(&opts.record, flagRecord, false, flagRecordDesc)
	flags.StringVar(&opts.source, flagSource, "English", fmt.Sprintf(flagSourceDesc, names))
	flags.StringVar(&opts.target, flagTarget, "French", fmt.Sprintf(flagTargetDesc, names))
	flags.Float64Var(&opts.duration, flagDuration, defaultDuration, flagDurationDesc)
	flags.Float64Var(&opts.gain, flagGain, 0, flagGainDesc)
	flags.StringVar(&opts.mode, flagMode, string(recorder.Microphone), flagModeDesc)
	flags.StringVar(&opts.output, flagOutput, defaultOutput, flagOutputDesc)
	flags.BoolVar(&opts.skipSpeech, flagSkipSpeech, false, flagSkipSpeechDesc)
	flags.BoolVar(&opts.health, flagHealth, false, flagHealthDesc)
	flags.BoolVar(&opts.verbose, flagVerbose, false, flagVerboseDesc)
	flags.BoolVar(&opts.languages, flagLanguages, false, flagLanguagesDesc)
	flags.StringVar(&opts.apiKey, flagAPIKey, "", flagAPIKeyDesc)

	err := flags.Parse(args)
	if err != nil {
		return cliOptions{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	// The flag package stops at the first positional argument, so anything
	// after the key would be silently ignored.
	if flags.NArg() > 1 {
		return cliOptions{}, fmt.Errorf("%w: unexpected %q", errFlagsAfterKey, flags.Arg(1))
	}

	if opts.apiKey == "" {
		opts.apiKey = config.ResolveAPIKey(flags.Args(), getenv)
	}

	if opts.health || opts.languages {
		return opts, nil
	}

	return opts, validate(opts)
}

func validate(opts cliOptions) error {
	inputs := 0

	for _, set := range []bool{opts.text != "", opts.file != "", opts.record} {
		if set {
			inputs++
		}
	}

	switch inputs {
	case 0:
		return errNoInput
	case 1:
	default:
		return errTooManyInputs
	}

	if opts.file != "" && !fileutil.IsValidAudioFile(opts.file) {
		return fmt.Errorf("%w: %s", fileutil.ErrUnsupportedAudio, opts.file)
	}

	return nil
}

// setup loads the configuration and opens the log. A missing configuration
// file is not fatal for the command line.
func setup() (*config.Config, *logger.Logger, error) {
	err := config.LoadEnvFiles()
	if err != nil {
		return nil, nil, err
	}

	bootstrapLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Warn("Using default configuration: %v", err)

		return config.Default(), bootstrapLog, nil
	}

	if cfg.Paths.BaseLogsDir == os.TempDir() {
		return cfg, bootstrapLog, nil
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		bootstrapLog.Warn("Keeping bootstrap log: %v", err)

		return cfg, bootstrapLog, nil
	}

	_ = bootstrapLog.Close()

	return cfg, log, nil
}

func checkHealth(ctx context.Context, components *app.Components, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	name := components.Synthesizer.Engine().Name()

	err := components.Synthesizer.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("speech engine %s is not healthy: %w", name, err)
	}

	fmt.Fprintf(out, "Speech engine %s is healthy\n", name)

	return nil
}

func listLanguages(out io.Writer) {
	for _, name := range language.Names() {
		fmt.Fprintln(out, name)
	}
}

// execute runs one request and writes the transcript and translation to out.
func execute(ctx context.Context, opts cliOptions, components *app.Components, out io.Writer) error {
	result, err := translateInput(ctx, opts, components, out)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Source (%s): %s\n", opts.source, result.SourceText)
	fmt.Fprintf(out, "Translation (%s): %s\n", opts.target, result.TranslatedText)

	if !result.HasSpeech() {
		return nil
	}

	defer func() { _ = components.Pipeline.ReleaseArtifact(result.Artifact.Path) }()

	err = copyFile(result.Artifact.Path, opts.output)
	if err != nil {
		return err
	}

	if result.Artifact.FellBack {
		fmt.Fprintf(out, "Speech (%s, fallback): %s\n", result.Artifact.Language, opts.output)
	} else {
		fmt.Fprintf(out, "Speech: %s\n", opts.output)
	}

	return nil
}

func translateInput(ctx context.Context, opts cliOptions, components *app.Components, out io.Writer) (pipeline.Result, error) {
	verbose, canVerbose := components.Transcriber.(verboseTranscriber)

	switch {
	case opts.file != "" && opts.verbose && canVerbose:
		text, err := transcribeSegments(ctx, verbose, opts, out)
		if err != nil {
			return pipeline.Result{}, err
		}

		return components.Pipeline.TranslateText(ctx, pipeline.TextRequest{
			Text:           text,
			SourceLanguage: opts.source,
			TargetLanguage: opts.target,
			SkipSpeech:     opts.skipSpeech,
		})
	case opts.text != "":
		return components.Pipeline.TranslateText(ctx, pipeline.TextRequest{
			Text:           opts.text,
			SourceLanguage: opts.source,
			TargetLanguage: opts.target,
			SkipSpeech:     opts.skipSpeech,
		})
	case opts.file != "":
		if opts.verbose {
			fmt.Fprintln(out, "Timed segments are not available from this transcriber")
		}

		return components.Pipeline.ProcessFile(ctx, pipeline.FileRequest{
			Path:           opts.file,
			SourceLanguage: opts.source,
			TargetLanguage: opts.target,
			SkipSpeech:     opts.skipSpeech,
		})
	default:
		source, err := recorder.ParseSource(opts.mode)
		if err != nil {
			return pipeline.Result{}, err
		}

		buf, err := components.Recorder.Record(ctx, source, time.Duration(opts.duration*float64(time.Second)))
		if err != nil {
			return pipeline.Result{}, err
		}

		return components.Pipeline.ProcessRecording(ctx, pipeline.RecordingRequest{
			Buffer:         buf,
			Gain:           opts.gain,
			SourceLanguage: opts.source,
			TargetLanguage: opts.target,
			SkipSpeech:     opts.skipSpeech,
		})
	}
}

// transcribeSegments prints the timed segments of the file and returns the
// full transcript.
func transcribeSegments(ctx context.Context, transcriber verboseTranscriber, opts cliOptions, out io.Writer) (string, error) {
	doc, err := transcriber.TranscribeVerbose(ctx, opts.file, pipeline.TranscriptionHint(opts.source))
	if err != nil {
		return "", &pipeline.StageError{Stage: pipeline.StageTranscribe, Err: err}
	}

	printSegments(out, doc)

	text, _ := doc["text"].(string)
	if strings.TrimSpace(text) == "" {
		return "", &pipeline.StageError{Stage: pipeline.StageTranscribe, Err: pipeline.ErrNoSpeech}
	}

	return text, nil
}

// printSegments writes one line per segment of a verbose_json document.
// Malformed segments are skipped.
func printSegments(out io.Writer, doc map[string]any) {
	segments, _ := doc["segments"].([]any)

	for _, raw := range segments {
		segment, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		start, _ := segment["start"].(float64)
		end, _ := segment["end"].(float64)
		text, _ := segment["text"].(string)

		fmt.Fprintf(out, "[%s - %s] %s\n",
			fileutil.FormatDuration(start), fileutil.FormatDuration(end), strings.TrimSpace(text))
	}
}

func copyFile(src, dst string) error {
	err := fileutil.EnsureDir(filepath.Dir(dst))
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open speech artifact: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	_, err = io.Copy(out, in)
	closeErr := out.Close()

	if err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close %s: %w", dst, closeErr)
	}

	return nil
}
