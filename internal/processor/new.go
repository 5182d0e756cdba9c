package processor

import (
	"sync"
	"time"

	"github.com/nguyentantai21042004/voicebrief/internal/admission"
	"github.com/nguyentantai21042004/voicebrief/internal/logger"
	"github.com/nguyentantai21042004/voicebrief/internal/optout"
	"github.com/nguyentantai21042004/voicebrief/internal/summarizer"
	"github.com/nguyentantai21042004/voicebrief/internal/transcoder"
	"github.com/nguyentantai21042004/voicebrief/internal/usage"
	"github.com/nguyentantai21042004/voicebrief/internal/whatsapp"
)

type implProcessor struct {
	gateway    whatsapp.Gateway
	registry   optout.Registry
	admission  admission.Controller
	usage      usage.Recorder
	transcoder transcoder.Transcoder
	summarizer summarizer.Summarizer
	logger     logger.Logger

	tempRoot       string
	processTimeout time.Duration
	sem            *semaphore
	wg             sync.WaitGroup
}

// Options carries the collaborators and tunables for a Processor.
type Options struct {
	Gateway        whatsapp.Gateway
	Registry       optout.Registry
	Admission      admission.Controller
	Usage          usage.Recorder
	Transcoder     transcoder.Transcoder
	Summarizer     summarizer.Summarizer
	Logger         logger.Logger
	TempRoot       string
	ProcessTimeout time.Duration
	MaxConcurrent  int
}

// New creates a new Processor instance
func New(opts Options) Processor {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = 5 * time.Minute
	}
	return &implProcessor{
		gateway:        opts.Gateway,
		registry:       opts.Registry,
		admission:      opts.Admission,
		usage:          opts.Usage,
		transcoder:     opts.Transcoder,
		summarizer:     opts.Summarizer,
		logger:         opts.Logger,
		tempRoot:       opts.TempRoot,
		processTimeout: opts.ProcessTimeout,
		sem:            newSemaphore(opts.MaxConcurrent),
	}
}
