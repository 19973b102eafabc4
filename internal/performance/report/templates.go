package report

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Name}} - Load Test Report</title>
<script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
<style>
  body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; background: #f4f6f8; color: #1f2933; margin: 0; }
  main { max-width: 1200px; margin: 0 auto; padding: 2rem; }
  header { display: flex; justify-content: space-between; align-items: baseline; }
  .badge { padding: .25rem .75rem; border-radius: 999px; color: #fff; font-weight: 600; }
  .pass { background: #16a34a; } .fail { background: #dc2626; }
  .cards { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 1rem; margin: 1.5rem 0; }
  .card, section { background: #fff; border-radius: 8px; padding: 1rem 1.25rem; box-shadow: 0 1px 3px rgba(0,0,0,.08); }
  .card .label { color: #627d98; font-size: .85rem; }
  .card .value { font-size: 1.5rem; font-weight: 600; }
  section { margin-bottom: 1.5rem; }
  table { width: 100%; border-collapse: collapse; font-variant-numeric: tabular-nums; }
  th, td { text-align: left; padding: .4rem .6rem; border-bottom: 1px solid #e4e7eb; }
  th { color: #627d98; font-weight: 500; }
  .ok { color: #16a34a; } .bad { color: #dc2626; }
  .error { color: #dc2626; font-weight: 600; }
</style>
</head>
<body>
<main>
<header>
  <div>
    <h1>{{.Name}}</h1>
    {{if .Description}}<p>{{.Description}}</p>{{end}}
    <p>Run <code>{{.RunID}}</code> started {{.StartTime.Format "2006-01-02 15:04:05 MST"}}</p>
  </div>
  {{if .Passed}}<span class="badge pass">PASSED</span>{{else}}<span class="badge fail">FAILED</span>{{end}}
</header>

{{if .Error}}<p class="error">{{.Error}}</p>{{end}}

{{with .Metrics}}
<div class="cards">
  <div class="card"><div class="label">Duration</div><div class="value">{{duration $.Duration}}</div></div>
  <div class="card"><div class="label">Operations</div><div class="value">{{number .TotalOperations}}</div></div>
  <div class="card"><div class="label">Rate</div><div class="value">{{printf "%.1f/s" .Rate}}</div></div>
  <div class="card"><div class="label">Success rate</div><div class="value">{{percent (successRate .)}}</div></div>
  <div class="card"><div class="label">Data received</div><div class="value">{{bytes .TotalBytes}}</div></div>
</div>
{{end}}

<section>
  <h2>Timeline</h2>
  <canvas id="timeline" height="90"></canvas>
</section>

{{if .Trends}}
<section>
  <h2>Trends</h2>
  <table>
    <tr><th>Metric</th><th>avg</th><th>min</th><th>med</th><th>max</th><th>p90</th><th>p95</th><th>p99</th><th>count</th></tr>
    {{range .Trends}}
    <tr><td>{{.Name}}</td><td>{{latency .Mean}}</td><td>{{latency .Min}}</td><td>{{latency .P50}}</td><td>{{latency .Max}}</td>
      <td>{{latency .P90}}</td><td>{{latency .P95}}</td><td>{{latency .P99}}</td><td>{{number .Count}}</td></tr>
    {{end}}
  </table>
</section>
{{end}}

{{if .Counters}}
<section>
  <h2>Counters</h2>
  <table>
    <tr><th>Metric</th><th>Value</th><th>Rate</th></tr>
    {{range .Counters}}<tr><td>{{.Name}}</td><td>{{number .Value}}</td><td>{{printf "%.2f/s" .Rate}}</td></tr>{{end}}
  </table>
</section>
{{end}}

{{if .Scenarios}}
<section>
  <h2>Scenarios</h2>
  <table>
    <tr><th>Name</th><th>Executor</th><th>Workload</th><th>Duration</th><th>Iterations</th><th>Max VUs</th><th>Abandoned VUs</th><th>Error</th></tr>
    {{range $name, $s := .Scenarios}}
    <tr><td>{{$name}}</td><td>{{$s.Executor}}</td><td>{{$s.Workload}}</td><td>{{duration $s.Duration}}</td>
      <td>{{number $s.Iterations}}</td><td>{{$s.MaxVUs}}</td><td>{{$s.AbandonedVUs}}</td><td class="bad">{{$s.Error}}</td></tr>
    {{end}}
  </table>
</section>
{{end}}

{{if .Checks}}
<section>
  <h2>Checks</h2>
  <table>
    <tr><th>Check</th><th>Passes</th><th>Fails</th><th>Rate</th></tr>
    {{range .Checks}}
    <tr><td class="{{if eq .Fails 0}}ok{{else}}bad{{end}}">{{.Name}}</td><td>{{number .Passes}}</td><td>{{number .Fails}}</td><td>{{percent .Rate}}</td></tr>
    {{end}}
  </table>
</section>
{{end}}

{{if .Thresholds}}
<section>
  <h2>Thresholds</h2>
  <table>
    <tr><th>Metric</th><th>Expression</th><th>Actual</th><th>Result</th></tr>
    {{range .Thresholds}}
    <tr><td>{{.Metric}}</td><td>{{.Expression}}</td><td>{{printf "%.2f" .Value}}</td>
      <td>{{if .Passed}}<span class="ok">pass</span>{{else}}<span class="bad">fail</span> {{.Message}}{{end}}</td></tr>
    {{end}}
  </table>
</section>
{{end}}
</main>

<script>
const series = {{.TimeSeriesJSON}};
if (series.length > 0 && window.Chart) {
  new Chart(document.getElementById('timeline'), {
    type: 'line',
    data: {
      labels: series.map(p => p.timestamp.slice(11, 19)),
      datasets: [
        { label: 'ops/s', data: series.map(p => p.rate), yAxisID: 'rate', borderColor: '#2563eb' },
        { label: 'p95 (ms)', data: series.map(p => p.latencyP95), yAxisID: 'latency', borderColor: '#f59e0b' },
        { label: 'p99 (ms)', data: series.map(p => p.latencyP99), yAxisID: 'latency', borderColor: '#dc2626' },
        { label: 'VUs', data: series.map(p => p.activeVUs), yAxisID: 'rate', borderColor: '#16a34a', borderDash: [4, 4] }
      ]
    },
    options: {
      animation: false,
      pointRadius: 0,
      scales: {
        rate: { type: 'linear', position: 'left' },
        latency: { type: 'linear', position: 'right', grid: { drawOnChartArea: false } }
      }
    }
  });
}
</script>
</body>
</html>
`
