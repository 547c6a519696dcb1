package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>midpay</title>
    <meta name="description" content="Escrow payments sealed into a proof-of-work chain">
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        :root {
            --bg: #09090b;
            --bg-subtle: #18181b;
            --border: #27272a;
            --text: #fafafa;
            --text-secondary: #a1a1aa;
            --accent: #22c55e;
            --red: #ef4444;
            --blue: #3b82f6;
        }
        body {
            background: var(--bg);
            color: var(--text);
            font-family: ui-monospace, 'SF Mono', Menlo, monospace;
            padding: 2rem;
            max-width: 960px;
            margin: 0 auto;
        }
        h1 { font-size: 1.4rem; margin-bottom: 0.25rem; }
        .sub { color: var(--text-secondary); margin-bottom: 2rem; }
        .grid { display: grid; grid-template-columns: repeat(3, 1fr); gap: 1rem; margin-bottom: 2rem; }
        .card {
            background: var(--bg-subtle);
            border: 1px solid var(--border);
            border-radius: 8px;
            padding: 1rem;
        }
        .card .label { color: var(--text-secondary); font-size: 0.75rem; text-transform: uppercase; }
        .card .value { font-size: 1.5rem; margin-top: 0.25rem; }
        table { width: 100%; border-collapse: collapse; font-size: 0.85rem; }
        th, td { text-align: left; padding: 0.5rem; border-bottom: 1px solid var(--border); }
        th { color: var(--text-secondary); font-weight: 500; }
        .status-created { color: var(--blue); }
        .status-confirmed { color: var(--accent); }
        .status-cancelled, .status-disputed { color: var(--red); }
        #verify { margin: 1rem 0 2rem; color: var(--text-secondary); }
        #verify.ok { color: var(--accent); }
        #verify.bad { color: var(--red); }
    </style>
</head>
<body>
    <h1>midpay</h1>
    <div class="sub">escrow between A and B, every record sealed into the chain</div>

    <div class="grid">
        <div class="card"><div class="label">A</div><div class="value" id="bal-A">&mdash;</div></div>
        <div class="card"><div class="label">B</div><div class="value" id="bal-B">&mdash;</div></div>
        <div class="card"><div class="label">escrow</div><div class="value" id="bal-escrow">&mdash;</div></div>
    </div>

    <div id="verify">verifying chain&hellip;</div>

    <table>
        <thead><tr><th>id</th><th>amount</th><th>status</th><th>signed by</th><th>updated</th></tr></thead>
        <tbody id="history"></tbody>
    </table>

    <script>
        async function refresh() {
            const accounts = await fetch('/api/v1/accounts').then(r => r.json());
            for (const a of accounts.accounts || []) {
                const el = document.getElementById('bal-' + a.owner);
                if (el) el.textContent = a.balance;
            }

            const verify = await fetch('/api/v1/chain/verify').then(r => r.json());
            const v = document.getElementById('verify');
            if (verify.valid) {
                v.textContent = 'chain intact: ' + verify.length + ' blocks';
                v.className = 'ok';
            } else {
                v.textContent = 'TAMPERED: first broken block ' + verify.firstBrokenIndex;
                v.className = 'bad';
            }

            const history = await fetch('/api/v1/transactions').then(r => r.json());
            const rows = (history.transactions || []).slice().reverse().map(t =>
                '<tr><td>' + t.id + '</td><td>' + t.amount +
                '</td><td class="status-' + t.status + '">' + t.status +
                '</td><td>' + t.signedBy + '</td><td>' +
                new Date(t.updatedAt).toLocaleTimeString() + '</td></tr>');
            document.getElementById('history').innerHTML = rows.join('');
        }

        refresh();
        setInterval(refresh, 5000);

        const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
        const ws = new WebSocket(proto + '//' + location.host + '/ws');
        ws.onopen = () => ws.send(JSON.stringify({ allEvents: true }));
        ws.onmessage = () => refresh();
    </script>
</body>
</html>`

func dashboardHandler(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, dashboardHTML)
}
