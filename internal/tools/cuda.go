package tools

import (
	"context"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"
)

var (
	cudaOnce      sync.Once
	cudaAvailable bool
)

// CUDAAvailable reports whether an NVIDIA GPU is usable, probed once via
// nvidia-smi. Demucs and Spleeter fall back to CPU when it is not.
func CUDAAvailable() bool {
	cudaOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		out, err := exec.CommandContext(ctx, "nvidia-smi", "-L").Output()
		if err != nil {
			log.Println("CUDA not available; separators will run on CPU, which can be significantly slower")
			return
		}
		if strings.Contains(string(out), "GPU") {
			cudaAvailable = true
			log.Printf("GPU detected: %s", strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0]))
		}
	})
	return cudaAvailable
}
