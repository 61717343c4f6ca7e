package segment

// soundwaveScriptTemplate is the scene script sent to the transition backend.
// Verbs: narration audio path, clip duration in seconds.
const soundwaveScriptTemplate = `from manim import *
import numpy as np
import wave


class SoundwaveScene(Scene):
    def construct(self):
        self.camera.background_color = "#00000000"
        audio_path = %q
        duration = %.2f

        with wave.open(audio_path, "rb") as wf:
            rate = wf.getframerate()
            frames = wf.readframes(wf.getnframes())
        samples = np.frombuffer(frames, dtype=np.int16).astype(np.float64)
        samples = np.abs(samples) / (np.max(np.abs(samples)) or 1.0)

        bar_count = 32
        bars = VGroup(*[
            RoundedRectangle(corner_radius=0.04, width=0.12, height=0.2,
                             fill_opacity=1.0, fill_color=WHITE, stroke_width=0)
            for _ in range(bar_count)
        ]).arrange(RIGHT, buff=0.08).move_to(ORIGIN)

        def level_at(t, i):
            window = len(samples) / max(duration, 0.01)
            center = int(t * window)
            span = max(int(window / bar_count), 1)
            lo = max(center - span * (bar_count // 2 - i), 0)
            hi = min(lo + span, len(samples))
            if hi <= lo:
                return 0.05
            return float(np.mean(samples[lo:hi]))

        tracker = ValueTracker(0.0)

        def updater(group):
            t = tracker.get_value()
            for i, bar in enumerate(group):
                bar.stretch_to_fit_height(0.2 + 1.6 * level_at(t, i))

        bars.add_updater(updater)
        self.add(bars)
        self.play(tracker.animate.set_value(duration),
                  run_time=duration, rate_func=linear)
        bars.remove_updater(updater)
`
