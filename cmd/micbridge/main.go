// Command micbridge is a local development stand-in for the SIP
// Endpoint's RTP transceiver: it bridges this machine's microphone and
// speakers onto a call's shared memory rings, so the rest of the
// pipeline (IAP/Transcriber/Reasoner/Synthesizer/OAP) can be exercised
// live without a real SIP call.
package main

import (
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/chtugha/callfabric/pkg/audio"
	"github.com/chtugha/callfabric/pkg/ring"
	"github.com/gen2brain/malgo"
	"github.com/spf13/pflag"
)

const sampleRate = 8000

func main() {
	var callID int
	var vadThreshold float64
	fs := pflag.NewFlagSet("micbridge", pflag.ExitOnError)
	fs.IntVar(&callID, "call-id", 1, "call id whose rings to bridge onto")
	fs.Float64Var(&vadThreshold, "meter-threshold", 0.02, "RMS level the console meter treats as speech")
	fs.Parse(os.Args[1:])

	inRing, err := ring.Create(ring.Name("ap_in", callID), callID, ring.DefaultSlotSize, ring.DefaultSlotCount)
	if err != nil {
		fmt.Fprintln(os.Stderr, "micbridge: create inbound ring:", err)
		os.Exit(1)
	}
	defer inRing.Close()
	defer ring.Unlink(ring.Name("ap_in", callID))

	outRing, err := ring.Open(ring.Name("ap_out", callID), ring.Consumer)
	if err != nil {
		fmt.Fprintln(os.Stderr, "micbridge: open outbound ring (is OAP running for this call?):", err)
		os.Exit(1)
	}
	defer outRing.Close()

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "micbridge:", err)
		os.Exit(1)
	}
	defer mctx.Uninit()

	var micMu sync.Mutex
	micBuf := make([]int16, 0, audio.FrameBytes*4)

	var rmsMu sync.Mutex
	lastRMS := 0.0

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil {
			samples := make([]int16, len(pInput)/2)
			var sum float64
			for i := range samples {
				s := int16(pInput[2*i]) | int16(pInput[2*i+1])<<8
				samples[i] = s
				f := float64(s) / 32768.0
				sum += f * f
			}
			rms := math.Sqrt(sum / float64(len(samples)))
			rmsMu.Lock()
			lastRMS = rms
			rmsMu.Unlock()

			micMu.Lock()
			micBuf = append(micBuf, samples...)
			micMu.Unlock()
		}
		if pOutput != nil {
			frame, err := outRing.ReadFrame()
			if err != nil {
				for i := range pOutput {
					pOutput[i] = 0
				}
				return
			}
			outRing.Touch()
			pcm := audio.DecodeMulawToPCM16(frame)
			for i := 0; i < len(pOutput)/2 && i < len(pcm); i++ {
				pOutput[2*i] = byte(pcm[i])
				pOutput[2*i+1] = byte(pcm[i] >> 8)
			}
		}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = sampleRate

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		fmt.Fprintln(os.Stderr, "micbridge:", err)
		os.Exit(1)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "micbridge:", err)
		os.Exit(1)
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				micMu.Lock()
				for len(micBuf) >= audio.FrameBytes {
					pcm := micBuf[:audio.FrameBytes]
					micBuf = micBuf[audio.FrameBytes:]
					encoded := audio.EncodePCM16ToMulaw(pcm)
					if err := inRing.WriteFrame(encoded); err == nil {
						inRing.Touch()
					}
				}
				micMu.Unlock()
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(150 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				rmsMu.Lock()
				level := lastRMS
				rmsMu.Unlock()
				dots := int(level * 500)
				if dots > 40 {
					dots = 40
				}
				meter := ""
				for i := 0; i < dots; i++ {
					meter += "|"
				}
				speaking := ""
				if level > vadThreshold {
					speaking = " SPEAKING"
				}
				fmt.Printf("\r[call %s] [%-40s] rms=%.4f%s", strconv.Itoa(callID), meter, level, speaking)
			}
		}
	}()

	fmt.Printf("micbridge: bridging mic/speaker onto call %d, press Ctrl+C to exit\n", callID)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	close(stop)
	fmt.Println("\nmicbridge: shutting down")
}
